package entropy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestCryptoReadDecodesBigEndianPairs(t *testing.T) {
	src := Crypto{Reader: bytes.NewReader([]byte{0x00, 0x0a, 0xff, 0xff, 0x01, 0x00})}
	values, err := src.Read(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 65535, 256}, values)
	assert.Equal(t, TierCrypto, src.Tier())
}

func TestCryptoReadShortReader(t *testing.T) {
	src := Crypto{Reader: bytes.NewReader([]byte{0x01})}
	_, err := src.Read(context.Background(), 1)
	require.Error(t, err)
}

func TestCryptoReadDefaultReaderInRange(t *testing.T) {
	values, err := Crypto{}.Read(context.Background(), 64)
	require.NoError(t, err)
	require.Len(t, values, 64)
	for _, v := range values {
		assert.GreaterOrEqual(t, v, 0)
		assert.Less(t, v, Max)
	}
}

func TestCryptoReadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Crypto{}.Read(ctx, 4)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQuantumRead(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    []int
		wantErr bool
	}{
		{name: "ok", status: 200, body: `{"type":"uint16","length":3,"data":[1,2,65535],"success":true}`, want: []int{1, 2, 65535}},
		{name: "provider failure", status: 200, body: `{"success":false}`, wantErr: true},
		{name: "missing data", status: 200, body: `{"success":true}`, wantErr: true},
		{name: "out of range", status: 200, body: `{"data":[70000],"success":true}`, wantErr: true},
		{name: "http error", status: 500, body: `oops`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotQuery string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotQuery = r.URL.RawQuery
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			src := Quantum{URL: srv.URL, Client: srv.Client()}
			values, err := src.Read(context.Background(), 3)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, values)
			assert.Contains(t, gotQuery, "length=3")
			assert.Contains(t, gotQuery, "type=uint16")
		})
	}
}

func TestQuantumReadCapsLength(t *testing.T) {
	var gotLength string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.URL.Query().Get("length")
		_, _ = io.WriteString(w, `{"data":[1],"success":true}`)
	}))
	defer srv.Close()

	_, err := Quantum{URL: srv.URL}.Read(context.Background(), 5000)
	require.NoError(t, err)
	assert.Equal(t, "1024", gotLength)
}

func TestRandomOrgRead(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","result":{"random":{"data":[5,6,7,8],"completionTime":"x"},"bitsUsed":64},"id":1}`)
	}))
	defer srv.Close()

	src := &RandomOrg{URL: srv.URL, APIKey: "key-123"}
	values, err := src.Read(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 6, 7, 8}, values)

	req := gjson.ParseBytes(body)
	assert.Equal(t, "generateIntegers", req.Get("method").String())
	assert.Equal(t, "key-123", req.Get("params.apiKey").String())
	assert.EqualValues(t, 4, req.Get("params.n").Int())
	assert.EqualValues(t, 0, req.Get("params.min").Int())
	assert.EqualValues(t, 65535, req.Get("params.max").Int())
	assert.True(t, req.Get("params.replacement").Bool())
	assert.EqualValues(t, 1, req.Get("id").Int())
}

func TestRandomOrgReadRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","error":{"code":402,"message":"quota exceeded"},"id":1}`)
	}))
	defer srv.Close()

	_, err := (&RandomOrg{URL: srv.URL, APIKey: "k"}).Read(context.Background(), 2)
	require.ErrorIs(t, err, ErrBadResponse)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRandomOrgRequiresKey(t *testing.T) {
	_, err := (&RandomOrg{}).Read(context.Background(), 2)
	require.ErrorIs(t, err, ErrNotConfigured)
}
