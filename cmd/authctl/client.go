package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authd/signature"
)

type client struct {
	base   string
	signer *signature.Signer
	http   *http.Client
}

func newClient(base string, secret []byte, timeout time.Duration) (*client, error) {
	signer, err := signature.NewSigner(secret)
	if err != nil {
		return nil, err
	}
	return &client{
		base:   strings.TrimRight(base, "/"),
		signer: signer,
		http:   &http.Client{Timeout: timeout},
	}, nil
}

// do sends one signed request and pretty-prints the JSON response to out. Non-2xx
// responses are returned as errors after printing the body.
func (c *client) do(ctx context.Context, out io.Writer, method, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.signer.SignRequest(req, body)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if json.Indent(&pretty, raw, "", "  ") == nil {
		raw = pretty.Bytes()
	}
	fmt.Fprintln(out, string(raw))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
