package tedapi

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the gateway envelope schema.
const (
	fieldMessage = 1
	fieldTail    = 2

	fieldDeliveryChannel = 1
	fieldSender          = 2
	fieldRecipient       = 3
	fieldFirmware        = 4
	fieldConfig          = 15
	fieldPayload         = 16

	fieldParticipantDIN   = 1
	fieldParticipantLocal = 3

	fieldTailValue = 1

	fieldSend = 1
	fieldRecv = 2

	fieldConfigNum  = 1
	fieldConfigFile = 2

	fieldQueryNum     = 1
	fieldQueryPayload = 2
	fieldQueryCode    = 3
	fieldQueryB       = 4

	fieldStringValue = 1
	fieldStringText  = 2

	fieldFirmwareRequest = 2
	fieldFirmwareSystem  = 3
)

// Payload field paths inside a reply envelope.
var (
	configPayloadPath   = []protowire.Number{fieldMessage, fieldConfig, fieldRecv, 1, 100}
	queryPayloadPath    = []protowire.Number{fieldMessage, fieldPayload, fieldRecv, fieldStringText}
	firmwarePayloadPath = []protowire.Number{fieldMessage, fieldFirmware, fieldFirmwareSystem}
)

const (
	deliveryChannelLocal = 1
	senderLocal          = 1
	configSendNum        = 1
	querySendNum         = 2
	queryPayloadValue    = 1
	tailValue            = 1

	configFileName = "config.json"
)

// Query is a signed query definition accepted by the gateway.
//
// The gateway only executes query text accompanied by its matching
// signature; both are opaque to this package.
type Query struct {
	Text      string
	Signature []byte
	// Vars is the JSON-encoded variables object sent with the query.
	Vars string
}

// EncodeConfigRequest builds the envelope asking the gateway for config.json.
func EncodeConfigRequest(din string) []byte {
	var cfg []byte
	cfg = protowire.AppendTag(cfg, fieldSend, protowire.BytesType)
	cfg = protowire.AppendBytes(cfg, appendConfigSend(nil))

	var env []byte
	env = appendEnvelopeHeader(env, "", din)
	env = protowire.AppendTag(env, fieldConfig, protowire.BytesType)
	env = protowire.AppendBytes(env, cfg)

	return wrapMessage(env)
}

// EncodeQueryRequest builds the envelope carrying a signed query.
func EncodeQueryRequest(din string, q Query) []byte {
	return encodeQuery(appendEnvelopeHeader(nil, "", din), q)
}

// EncodeDeviceQueryRequest builds a signed query the gateway forwards to a
// device behind it, such as a Powerwall 3 battery addressed by its VIN.
func EncodeDeviceQueryRequest(gatewayDIN, deviceDIN string, q Query) []byte {
	return encodeQuery(appendEnvelopeHeader(nil, gatewayDIN, deviceDIN), q)
}

func encodeQuery(env []byte, q Query) []byte {
	var text []byte
	text = protowire.AppendTag(text, fieldStringValue, protowire.VarintType)
	text = protowire.AppendVarint(text, queryPayloadValue)
	text = protowire.AppendTag(text, fieldStringText, protowire.BytesType)
	text = protowire.AppendString(text, q.Text)

	vars := q.Vars
	if vars == "" {
		vars = "{}"
	}
	var b []byte
	b = protowire.AppendTag(b, fieldStringValue, protowire.BytesType)
	b = protowire.AppendString(b, vars)

	var send []byte
	send = protowire.AppendTag(send, fieldQueryNum, protowire.VarintType)
	send = protowire.AppendVarint(send, querySendNum)
	send = protowire.AppendTag(send, fieldQueryPayload, protowire.BytesType)
	send = protowire.AppendBytes(send, text)
	send = protowire.AppendTag(send, fieldQueryCode, protowire.BytesType)
	send = protowire.AppendBytes(send, q.Signature)
	send = protowire.AppendTag(send, fieldQueryB, protowire.BytesType)
	send = protowire.AppendBytes(send, b)

	var payload []byte
	payload = protowire.AppendTag(payload, fieldSend, protowire.BytesType)
	payload = protowire.AppendBytes(payload, send)

	env = protowire.AppendTag(env, fieldPayload, protowire.BytesType)
	env = protowire.AppendBytes(env, payload)

	return wrapMessage(env)
}

// EncodeFirmwareRequest builds the envelope asking for firmware identity.
func EncodeFirmwareRequest(din string) []byte {
	var fw []byte
	fw = protowire.AppendTag(fw, fieldFirmwareRequest, protowire.BytesType)
	fw = protowire.AppendBytes(fw, nil)

	var env []byte
	env = appendEnvelopeHeader(env, "", din)
	env = protowire.AppendTag(env, fieldFirmware, protowire.BytesType)
	env = protowire.AppendBytes(env, fw)

	return wrapMessage(env)
}

func appendConfigSend(b []byte) []byte {
	b = protowire.AppendTag(b, fieldConfigNum, protowire.VarintType)
	b = protowire.AppendVarint(b, configSendNum)
	b = protowire.AppendTag(b, fieldConfigFile, protowire.BytesType)
	return protowire.AppendString(b, configFileName)
}

// appendEnvelopeHeader writes the routing fields. The sender carries a DIN
// only when a request is relayed to a device behind the gateway.
func appendEnvelopeHeader(b []byte, senderDIN, recipientDIN string) []byte {
	var sender []byte
	if senderDIN != "" {
		sender = protowire.AppendTag(sender, fieldParticipantDIN, protowire.BytesType)
		sender = protowire.AppendString(sender, senderDIN)
	}
	sender = protowire.AppendTag(sender, fieldParticipantLocal, protowire.VarintType)
	sender = protowire.AppendVarint(sender, senderLocal)

	var recipient []byte
	recipient = protowire.AppendTag(recipient, fieldParticipantDIN, protowire.BytesType)
	recipient = protowire.AppendString(recipient, recipientDIN)

	b = protowire.AppendTag(b, fieldDeliveryChannel, protowire.VarintType)
	b = protowire.AppendVarint(b, deliveryChannelLocal)
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendBytes(b, sender)
	b = protowire.AppendTag(b, fieldRecipient, protowire.BytesType)
	return protowire.AppendBytes(b, recipient)
}

func wrapMessage(env []byte) []byte {
	var tail []byte
	tail = protowire.AppendTag(tail, fieldTailValue, protowire.VarintType)
	tail = protowire.AppendVarint(tail, tailValue)

	var msg []byte
	msg = protowire.AppendTag(msg, fieldMessage, protowire.BytesType)
	msg = protowire.AppendBytes(msg, env)
	msg = protowire.AppendTag(msg, fieldTail, protowire.BytesType)
	return protowire.AppendBytes(msg, tail)
}

// ExtractPayload walks nested length-delimited fields along path and returns
// the bytes of the final field. When a field repeats, the last occurrence
// wins, matching protobuf merge semantics for scalar fields.
func ExtractPayload(msg []byte, path []protowire.Number) ([]byte, error) {
	cur := msg
	for depth, num := range path {
		next, ok, err := lastBytesField(cur, num)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d at depth %d: %v", ErrMalformedPayload, num, depth, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: field %d missing at depth %d", ErrMalformedPayload, num, depth)
		}
		cur = next
	}
	return cur, nil
}

// lastBytesField scans one message level for the last length-delimited
// occurrence of num.
func lastBytesField(b []byte, num protowire.Number) ([]byte, bool, error) {
	var (
		found []byte
		ok    bool
	)
	for len(b) > 0 {
		n, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return nil, false, protowire.ParseError(tagLen)
		}
		b = b[tagLen:]

		if n == num && typ == protowire.BytesType {
			v, vLen := protowire.ConsumeBytes(b)
			if vLen < 0 {
				return nil, false, protowire.ParseError(vLen)
			}
			found, ok = v, true
			b = b[vLen:]
			continue
		}

		vLen := protowire.ConsumeFieldValue(n, typ, b)
		if vLen < 0 {
			return nil, false, protowire.ParseError(vLen)
		}
		b = b[vLen:]
	}
	return found, ok, nil
}

// Firmware describes the gateway firmware and hardware identity.
type Firmware struct {
	System FirmwareSystem `json:"system"`
}

// FirmwareSystem is the system section of a firmware reply.
type FirmwareSystem struct {
	Gateway  GatewayIdentity `json:"gateway"`
	DIN      string          `json:"din"`
	Version  FirmwareVersion `json:"version"`
	Wireless WirelessInfo    `json:"wireless"`
}

// GatewayIdentity carries the gateway part and serial numbers.
type GatewayIdentity struct {
	PartNumber   string `json:"partNumber"`
	SerialNumber string `json:"serialNumber"`
}

// FirmwareVersion carries the firmware version string and build hash.
type FirmwareVersion struct {
	Text    string `json:"text"`
	GitHash string `json:"githash"`
}

// WirelessInfo lists radio modules reported by the gateway.
type WirelessInfo struct {
	Device []WirelessDevice `json:"device"`
}

// WirelessDevice is one radio module.
type WirelessDevice struct {
	Company string `json:"company"`
	Model   string `json:"model"`
	FCCID   string `json:"fcc_id"`
	IC      string `json:"ic"`
}

// DecodeFirmware parses a firmware reply envelope.
func DecodeFirmware(msg []byte) (*Firmware, error) {
	sys, err := ExtractPayload(msg, firmwarePayloadPath)
	if err != nil {
		return nil, err
	}

	fw := &Firmware{}
	err = walkFields(sys, func(num protowire.Number, v []byte) error {
		switch num {
		case 1:
			return walkFields(v, func(n protowire.Number, f []byte) error {
				switch n {
				case 1:
					fw.System.Version.Text = string(f)
				case 2:
					fw.System.Version.GitHash = hex.EncodeToString(f)
				}
				return nil
			})
		case 2:
			return walkFields(v, func(n protowire.Number, f []byte) error {
				switch n {
				case 1:
					fw.System.Gateway.PartNumber = string(f)
				case 2:
					fw.System.Gateway.SerialNumber = string(f)
				}
				return nil
			})
		case 3:
			fw.System.DIN = string(v)
		case 7:
			return walkFields(v, func(n protowire.Number, f []byte) error {
				if n != 1 {
					return nil
				}
				dev, err := decodeWirelessDevice(f)
				if err != nil {
					return err
				}
				fw.System.Wireless.Device = append(fw.System.Wireless.Device, dev)
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: firmware: %v", ErrMalformedPayload, err)
	}
	return fw, nil
}

func decodeWirelessDevice(b []byte) (WirelessDevice, error) {
	var dev WirelessDevice
	err := walkFields(b, func(n protowire.Number, f []byte) error {
		val, _, err := lastBytesField(f, fieldStringValue)
		if err != nil {
			return err
		}
		switch n {
		case 1:
			dev.Company = string(val)
		case 2:
			dev.Model = string(val)
		case 3:
			dev.FCCID = string(val)
		case 4:
			dev.IC = string(val)
		}
		return nil
	})
	return dev, err
}

// walkFields calls fn for every length-delimited field of one message level
// and skips all other wire types.
func walkFields(b []byte, fn func(protowire.Number, []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, v); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes a schema-less text rendering of a protobuf message to w.
// Length-delimited fields that parse as messages are expanded recursively;
// the rest are printed as strings or hex.
func Dump(w io.Writer, msg []byte) error {
	return dump(w, msg, 0)
}

func dump(w io.Writer, b []byte, depth int) error {
	indent := strings.Repeat("  ", depth)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if _, err := fmt.Fprintf(w, "%s%d: %d\n", indent, num, v); err != nil {
				return err
			}
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if _, err := fmt.Fprintf(w, "%s%d: 0x%08x\n", indent, num, v); err != nil {
				return err
			}
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if _, err := fmt.Fprintf(w, "%s%d: 0x%016x\n", indent, num, v); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := dumpBytes(w, num, v, depth); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func dumpBytes(w io.Writer, num protowire.Number, v []byte, depth int) error {
	indent := strings.Repeat("  ", depth)
	if len(v) > 0 && looksLikeMessage(v) {
		if _, err := fmt.Fprintf(w, "%s%d {\n", indent, num); err != nil {
			return err
		}
		if err := dump(w, v, depth+1); err != nil {
			return err
		}
		_, err := fmt.Fprintf(w, "%s}\n", indent)
		return err
	}
	if utf8.Valid(v) {
		_, err := fmt.Fprintf(w, "%s%d: %q\n", indent, num, v)
		return err
	}
	_, err := fmt.Fprintf(w, "%s%d: 0x%s\n", indent, num, hex.EncodeToString(v))
	return err
}

// looksLikeMessage reports whether b parses cleanly as protobuf fields.
// Printable text that happens to parse is left as a string.
func looksLikeMessage(b []byte) bool {
	if utf8.Valid(b) && isPrintable(b) {
		return false
	}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || num < 1 {
			return false
		}
		b = b[n:]
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return false
		}
		b = b[n:]
	}
	return true
}

func isPrintable(b []byte) bool {
	for _, r := range string(b) {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			return false
		}
	}
	return true
}
