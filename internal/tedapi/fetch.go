package tedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Config returns the gateway's config.json document.
//
// A fresh cached copy is returned without device I/O unless force is set.
// On any failure the last cached copy (possibly stale) or nil is returned;
// a reply that cannot be decoded yields an empty document.
func (c *Client) Config(ctx context.Context, force bool) any {
	return c.document(ctx, KindConfig, force, func(ctx context.Context) (any, error) {
		return c.jsonExchange(ctx, "config", EncodeConfigRequest, configPayloadPath)
	})
}

// Status returns the live device status document.
func (c *Client) Status(ctx context.Context, force bool) any {
	return c.document(ctx, KindStatus, force, c.queryFetcher("status", c.cfg.Queries.Status))
}

// Components returns the component signal document. Only third generation
// gateways implement this query; on older gateways the result is nil. While
// the generation is still unknown the last cached copy is served.
func (c *Client) Components(ctx context.Context, force bool) any {
	if !force {
		if v, fresh := c.cache.Get(KindComponents); fresh {
			c.metrics.CacheResult(KindComponents, true)
			return v
		}
	}
	if err := c.requireGen3(ctx); err != nil {
		if errors.Is(err, ErrUnsupported) {
			c.logger.Debug("components query skipped", "reason", "not a third generation gateway")
			return nil
		}
		c.logger.Debug("gateway generation unknown, serving cached components", "error", err)
		return c.fallback(KindComponents)
	}
	return c.document(ctx, KindComponents, force, c.queryFetcher("components", c.cfg.Queries.Components))
}

// requireGen3 returns nil for third generation gateways and ErrUnsupported
// for older ones. A failed handshake is returned as is.
func (c *Client) requireGen3(ctx context.Context) error {
	if c.gen3.Load() {
		return nil
	}
	if _, err := c.Connect(ctx); err != nil {
		return err
	}
	if !c.gen3.Load() {
		return ErrUnsupported
	}
	return nil
}

// Controller returns the combined status and component document used for
// vitals and fan speeds. On third generation gateways the per-battery
// documents of Powerwall 3 blocks are attached under BatteryDevicesKey.
func (c *Client) Controller(ctx context.Context, force bool) any {
	query := c.queryFetcher("controller", c.cfg.Queries.Controller)
	return c.document(ctx, KindController, force, func(ctx context.Context) (any, error) {
		doc, err := query(ctx)
		if err != nil {
			return nil, err
		}
		if m, ok := doc.(map[string]any); ok && c.gen3.Load() {
			if devices := c.batteryDevices(ctx); len(devices) > 0 {
				m[BatteryDevicesKey] = devices
			}
		}
		return doc, nil
	})
}

// BatteryDevicesKey is the controller document key holding Powerwall 3
// battery documents keyed by block VIN.
const BatteryDevicesKey = "pw3Devices"

// batteryDevices queries every Powerwall 3 block listed in config. Blocks
// that fail to answer are left out.
func (c *Client) batteryDevices(ctx context.Context) map[string]any {
	vins := PW3Blocks(c.Config(ctx, false))
	if len(vins) == 0 {
		return nil
	}

	out := make(map[string]any, len(vins))
	for _, vin := range vins {
		if !c.governor.Allowed() {
			break
		}
		doc, err := c.deviceQuery(ctx, vin, c.cfg.Queries.Battery)
		if err != nil {
			c.logger.Warn("battery query failed", "vin", vin, "error", err)
			continue
		}
		out[vin] = doc
	}
	return out
}

// deviceQuery sends q to the device vin through the gateway and decodes the
// JSON reply.
func (c *Client) deviceQuery(ctx context.Context, vin string, q Query) (any, error) {
	din, err := c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	path := "/tedapi/device/" + url.PathEscape(vin) + "/v1"
	body, err := c.post(ctx, "battery", path, EncodeDeviceQueryRequest(din, vin, q))
	if err != nil {
		return nil, err
	}

	raw, err := ExtractPayload(body, queryPayloadPath)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: battery json: %v", ErrMalformedPayload, err)
	}
	return doc, nil
}

// FirmwareDetails returns the gateway firmware and hardware identity, or nil
// if it is unavailable.
func (c *Client) FirmwareDetails(ctx context.Context, force bool) *Firmware {
	v := c.document(ctx, KindFirmware, force, func(ctx context.Context) (any, error) {
		body, err := c.exchange(ctx, "firmware", EncodeFirmwareRequest)
		if err != nil {
			return nil, err
		}
		return DecodeFirmware(body)
	})
	fw, _ := v.(*Firmware)
	return fw
}

// FirmwareVersion returns the gateway firmware version string, or "" if it
// is unavailable.
func (c *Client) FirmwareVersion(ctx context.Context, force bool) string {
	if fw := c.FirmwareDetails(ctx, force); fw != nil {
		return fw.System.Version.Text
	}
	return ""
}

func (c *Client) queryFetcher(op string, q Query) func(context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		return c.jsonExchange(ctx, op, func(din string) []byte {
			return EncodeQueryRequest(din, q)
		}, queryPayloadPath)
	}
}

// document implements the shared read path: cache, single flight, governor,
// identity, exchange and commit.
func (c *Client) document(ctx context.Context, kind DocumentKind, force bool, fetch func(context.Context) (any, error)) any {
	if !force {
		if v, fresh := c.cache.Get(kind); fresh {
			c.metrics.CacheResult(kind, true)
			return v
		}
	}
	c.metrics.CacheResult(kind, false)

	// The shared fetch must outlive any single caller; each caller still
	// stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(string(kind), func() (any, error) {
		return c.refresh(shared, kind, fetch), nil
	})

	select {
	case res := <-ch:
		return res.Val
	case <-ctx.Done():
		v, _ := c.cache.Get(kind)
		return v
	}
}

func (c *Client) refresh(ctx context.Context, kind DocumentKind, fetch func(context.Context) (any, error)) any {
	if !c.governor.Allowed() {
		c.logger.Debug("cooldown active, skipping gateway request",
			"kind", string(kind),
			"until", c.governor.Until(),
		)
		return c.fallback(kind)
	}

	v, err := fetch(ctx)
	switch {
	case err == nil:
		c.cache.Put(kind, v)
		return v
	case errors.Is(err, ErrMalformedPayload):
		c.logger.Error("discarding malformed gateway reply", "kind", string(kind), "error", err)
		if kind == KindFirmware {
			return c.fallback(kind)
		}
		return map[string]any{}
	default:
		c.logger.Warn("gateway request failed", "kind", string(kind), "error", err)
		return c.fallback(kind)
	}
}

// fallback returns the cached value of kind regardless of age.
func (c *Client) fallback(kind DocumentKind) any {
	v, _ := c.cache.Get(kind)
	return v
}

// jsonExchange sends a request and decodes the JSON document found at path.
func (c *Client) jsonExchange(ctx context.Context, op string, build func(din string) []byte, path []protowire.Number) (any, error) {
	body, err := c.exchange(ctx, op, build)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractPayload(body, path)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s json: %v", ErrMalformedPayload, op, err)
	}
	return doc, nil
}

// exchange resolves identity, posts one envelope and returns the reply body.
// A 403 before any successful exchange is treated as a generation mismatch:
// the gateway is marked third generation and the handshake is redone once.
func (c *Client) exchange(ctx context.Context, op string, build func(din string) []byte) ([]byte, error) {
	din, err := c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoIdentity, err)
	}

	body, err := c.post(ctx, op, gatewayPath, build(din))
	if errors.Is(err, ErrForbidden) && !c.contacted.Load() && c.reprobed.CompareAndSwap(false, true) {
		c.logger.Info("gateway refused first request, retrying as third generation", "op", op)
		c.gen3.Store(true)
		c.ResetIdentity()
		if din, err = c.Connect(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoIdentity, err)
		}
		body, err = c.post(ctx, op, gatewayPath, build(din))
	}
	if err != nil {
		return nil, err
	}

	c.contacted.Store(true)
	return body, nil
}

// gatewayPath is the endpoint for envelopes addressed to the gateway itself.
const gatewayPath = "/tedapi/v1"

// post sends one envelope to path on the gateway.
func (c *Client) post(ctx context.Context, op, path string, envelope []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(envelope))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/octet-string")
	req.SetBasicAuth(authUser, c.cfg.Password)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(op, 0, time.Since(start))
		return nil, fmt.Errorf("posting %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(op, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s reply: %w", op, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusTooManyRequests:
		c.tripCooldown(op)
		return nil, ErrRateLimited
	case http.StatusForbidden:
		c.logger.Error("access denied, check the gateway password", "op", op)
		return nil, ErrForbidden
	default:
		return nil, fmt.Errorf("%w: %s: %d", ErrUnexpectedStatus, op, resp.StatusCode)
	}
}

// Document returns the document of kind using the matching accessor. An
// unknown kind or an unavailable firmware document yields nil.
func (c *Client) Document(ctx context.Context, kind DocumentKind, force bool) any {
	switch kind {
	case KindConfig:
		return c.Config(ctx, force)
	case KindStatus:
		return c.Status(ctx, force)
	case KindComponents:
		return c.Components(ctx, force)
	case KindController:
		return c.Controller(ctx, force)
	case KindFirmware:
		if fw := c.FirmwareDetails(ctx, force); fw != nil {
			return fw
		}
		return nil
	default:
		return nil
	}
}
