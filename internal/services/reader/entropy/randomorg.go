package entropy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultRandomOrgURL is the random.org JSON-RPC endpoint.
const DefaultRandomOrgURL = "https://api.random.org/json-rpc/4/invoke"

const randomOrgMaxN = 10000

// RandomOrg reads integers through random.org's generateIntegers method.
type RandomOrg struct {
	URL    string
	APIKey string
	Client *http.Client

	seq atomic.Int64
}

// Tier returns TierRandomOrg.
func (*RandomOrg) Tier() Tier { return TierRandomOrg }

// Read requests min(n, 10000) values in [0, 65535].
func (r *RandomOrg) Read(ctx context.Context, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(r.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if n > randomOrgMaxN {
		n = randomOrgMaxN
	}
	payload, err := r.requestBody(n)
	if err != nil {
		return nil, err
	}
	endpoint := r.URL
	if endpoint == "" {
		endpoint = DefaultRandomOrgURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build random.org request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := doRequest(r.Client, req)
	if err != nil {
		return nil, fmt.Errorf("random.org: %w", err)
	}
	parsed := gjson.ParseBytes(body)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return nil, fmt.Errorf("%w: random.org error %d: %s", ErrBadResponse, rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}
	data := parsed.Get("result.random.data")
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: random.org data missing", ErrBadResponse)
	}
	values := make([]int, 0, n)
	for _, item := range data.Array() {
		values = append(values, int(item.Int()))
	}
	return validate(values, n)
}

func (r *RandomOrg) requestBody(n int) ([]byte, error) {
	body := []byte(`{"jsonrpc":"2.0","method":"generateIntegers"}`)
	sets := []struct {
		path  string
		value any
	}{
		{"params.apiKey", r.APIKey},
		{"params.n", n},
		{"params.min", 0},
		{"params.max", Max - 1},
		{"params.replacement", true},
		{"id", r.seq.Add(1)},
	}
	var err error
	for _, s := range sets {
		body, err = sjson.SetBytes(body, s.path, s.value)
		if err != nil {
			return nil, fmt.Errorf("build random.org body: %w", err)
		}
	}
	return body, nil
}
