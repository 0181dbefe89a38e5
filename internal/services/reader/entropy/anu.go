package entropy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
)

// DefaultQuantumURL is the ANU quantum random number endpoint.
const DefaultQuantumURL = "https://qrng.anu.edu.au/API/jsonI.php"

// anuMaxLength is the provider's per-request cap.
const anuMaxLength = 1024

// Quantum reads uint16 values from the ANU QRNG JSON API.
type Quantum struct {
	URL    string
	Client *http.Client
}

// Tier returns TierQuantum.
func (Quantum) Tier() Tier { return TierQuantum }

// Read requests min(n, 1024) values; callers loop for more.
func (q Quantum) Read(ctx context.Context, n int) ([]int, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > anuMaxLength {
		n = anuMaxLength
	}
	base := q.URL
	if base == "" {
		base = DefaultQuantumURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse qrng url: %w", err)
	}
	query := u.Query()
	query.Set("length", strconv.Itoa(n))
	query.Set("type", "uint16")
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build qrng request: %w", err)
	}
	body, err := doRequest(q.Client, req)
	if err != nil {
		return nil, fmt.Errorf("qrng: %w", err)
	}

	parsed := gjson.ParseBytes(body)
	if ok := parsed.Get("success"); ok.Exists() && !ok.Bool() {
		return nil, fmt.Errorf("%w: qrng reported failure", ErrBadResponse)
	}
	data := parsed.Get("data")
	if !data.IsArray() {
		return nil, fmt.Errorf("%w: qrng data missing", ErrBadResponse)
	}
	values := make([]int, 0, n)
	for _, item := range data.Array() {
		values = append(values, int(item.Int()))
	}
	return validate(values, n)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
