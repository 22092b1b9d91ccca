package echo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/3xpluto/go-upstream/internal/config"
)

func u64(v uint64) *uint64 { return &v }

func decodeBody(t *testing.T, b []byte) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("body is not json: %q: %v", b, err)
	}
	return out
}

func TestBodyOverheadMatchesEncoder(t *testing.T) {
	b, err := json.MarshalIndent(payload{ID: "abcd", Data: new(string)}, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != BodyOverhead {
		t.Fatalf("encoder output is %d bytes, BodyOverhead is %d: %q", len(b), BodyOverhead, b)
	}
}

func TestComposeDefaultBody(t *testing.T) {
	resp, err := NewComposer(config.EchoConfig{}).Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	got := resp.Body.Bytes()
	if string(got) != "{\n  \"id\": \"abcd\"\n}" {
		t.Fatalf("unexpected default body %q", got)
	}
	if ct := resp.Header.Get("Content-Type"); ct != ContentType {
		t.Fatalf("unexpected content type %q", ct)
	}
	if _, ok := resp.Header[HeaderDataName]; ok {
		t.Fatal("did not expect X-Header-Data without a header size")
	}
}

func TestComposeBodySizeIsExact(t *testing.T) {
	for _, target := range []uint64{uint64(BodyOverhead), uint64(BodyOverhead) + 1, 100, 4096, 1 << 20} {
		c := NewComposer(config.EchoConfig{SizeBodyBytes: u64(target)})
		resp, err := c.Compose(context.Background(), "Zz09")
		if err != nil {
			t.Fatal(err)
		}
		b := resp.Body.Bytes()
		if uint64(len(b)) != target {
			t.Fatalf("target %d: body is %d bytes", target, len(b))
		}
		doc := decodeBody(t, b)
		if doc["id"] != "Zz09" {
			t.Fatalf("target %d: unexpected id %q", target, doc["id"])
		}
		if uint64(len(doc["data"])) != target-uint64(BodyOverhead) {
			t.Fatalf("target %d: data is %d bytes", target, len(doc["data"]))
		}
	}
}

func TestComposeBodySizeBelowOverhead(t *testing.T) {
	for _, target := range []uint64{0, 1, uint64(BodyOverhead) - 1} {
		resp, err := NewComposer(config.EchoConfig{SizeBodyBytes: u64(target)}).Compose(context.Background(), "abcd")
		if err != nil {
			t.Fatal(err)
		}
		doc := decodeBody(t, resp.Body.Bytes())
		data, ok := doc["data"]
		if !ok || data != "" {
			t.Fatalf("target %d: expected empty data field, got %q (present=%v)", target, data, ok)
		}
	}
}

func TestComposeHeaderData(t *testing.T) {
	resp, err := NewComposer(config.EchoConfig{SizeHeadersBytes: u64(HeaderOverhead + 500)}).Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(resp.Header.Get(HeaderDataName)); got != 500 {
		t.Fatalf("expected 500 bytes of header data, got %d", got)
	}

	resp, err = NewComposer(config.EchoConfig{SizeHeadersBytes: u64(10)}).Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := resp.Header[HeaderDataName]; !ok || v[0] != "" {
		t.Fatalf("expected empty header data for unreachable target, got %v", v)
	}
}

func TestComposeWaitsHeaderDelay(t *testing.T) {
	c := NewComposer(config.EchoConfig{DelayHeadersMs: u64(80)})
	start := time.Now()
	if _, err := c.Compose(context.Background(), "abcd"); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Fatalf("compose returned after %v, expected at least 80ms", d)
	}
}

func TestComposeCancelledDuringHeaderDelay(t *testing.T) {
	c := NewComposer(config.EchoConfig{DelayHeadersMs: u64(10_000)})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Compose(ctx, "abcd")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("cancel took %v", d)
	}
}

func TestBodyWaitsBodyDelay(t *testing.T) {
	c := NewComposer(config.EchoConfig{DelayBodyMs: u64(80)})
	start := time.Now()
	resp, err := c.Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d >= 80*time.Millisecond {
		t.Fatalf("body delay leaked into compose: %v", d)
	}

	var buf bytes.Buffer
	if _, err := resp.Body.WriteTo(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}
	if d := time.Since(start); d < 80*time.Millisecond {
		t.Fatalf("body written after %v, expected at least 80ms", d)
	}
	if decodeBody(t, buf.Bytes())["id"] != "abcd" {
		t.Fatalf("unexpected body %q", buf.String())
	}
}

func TestBodyCancelledDuringDelayWritesNothing(t *testing.T) {
	resp, err := NewComposer(config.EchoConfig{DelayBodyMs: u64(10_000)}).Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	n, err := resp.Body.WriteTo(ctx, &buf)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n != 0 || buf.Len() != 0 {
		t.Fatalf("expected nothing written, got %d bytes", buf.Len())
	}
}

func TestComposeHeaderIsCopyable(t *testing.T) {
	resp, err := NewComposer(config.EchoConfig{}).Compose(context.Background(), "abcd")
	if err != nil {
		t.Fatal(err)
	}
	h := http.Header{}
	for k, v := range resp.Header {
		h[k] = v
	}
	if h.Get("Content-Type") != ContentType {
		t.Fatal("expected content type to survive copy")
	}
}
