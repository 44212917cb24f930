package tedapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Connect resolves the device identity (DIN), probing the gateway
// generation on first use. Once resolved the identity is reused for the
// client's lifetime until ResetIdentity is called.
//
// The identity mutex is held only for the resolution itself, so concurrent
// callers wait for one handshake instead of each issuing their own.
//
// Returns:
//   - string: The device identity
//   - error: ErrRateLimited, ErrForbidden, or a transport error
func (c *Client) Connect(ctx context.Context) (string, error) {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()

	if c.din != "" {
		return c.din, nil
	}
	if !c.governor.Allowed() {
		return "", ErrRateLimited
	}

	if !c.probed {
		if err := c.probe(ctx); err != nil {
			return "", err
		}
		c.probed = true
	}

	din, err := c.fetchDIN(ctx)
	if err != nil {
		return "", err
	}
	c.din = din
	c.logger.Info("connected to gateway", "host", c.cfg.Host, "din", din, "gen3", c.gen3.Load())
	return din, nil
}

// ResetIdentity forgets the resolved identity and generation probe so the
// next request performs a fresh handshake.
func (c *Client) ResetIdentity() {
	c.identityMu.Lock()
	defer c.identityMu.Unlock()
	c.din = ""
	c.probed = false
}

// probe checks that the gateway answers and records its generation. Third
// generation gateways answer the root path with 403.
func (c *Client) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"), nil)
	if err != nil {
		return fmt.Errorf("building probe request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest("probe", 0, time.Since(start))
		return fmt.Errorf("probing gateway %s: %w", c.cfg.Host, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes)) //nolint:errcheck // drain for connection reuse
	c.metrics.ObserveRequest("probe", resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusForbidden {
		c.gen3.Store(true)
		c.logger.Debug("gateway reports third generation", "host", c.cfg.Host)
	}
	return nil
}

// fetchDIN reads the device identity from the gateway.
func (c *Client) fetchDIN(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/tedapi/din"), nil)
	if err != nil {
		return "", fmt.Errorf("building din request: %w", err)
	}
	req.SetBasicAuth(authUser, c.cfg.Password)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.ObserveRequest("din", 0, time.Since(start))
		return "", fmt.Errorf("fetching din: %w", err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest("din", resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("reading din: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		din := strings.TrimSpace(string(body))
		if din == "" {
			return "", ErrNoIdentity
		}
		return din, nil
	case http.StatusTooManyRequests:
		c.tripCooldown("din")
		return "", ErrRateLimited
	case http.StatusForbidden:
		c.logger.Error("access denied, check the gateway password", "host", c.cfg.Host)
		return "", ErrForbidden
	default:
		return "", fmt.Errorf("%w: din: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
}

func (c *Client) tripCooldown(op string) {
	c.governor.Trip(c.cfg.Cooldown)
	c.metrics.CooldownTripped()
	c.logger.Warn("gateway rate limited, pausing requests",
		"op", op,
		"cooldown", c.cfg.Cooldown.String(),
	)
}

func (c *Client) url(path string) string {
	return "https://" + c.cfg.Host + path
}
