package echo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/3xpluto/go-upstream/internal/config"
	"github.com/3xpluto/go-upstream/internal/pad"
	"github.com/3xpluto/go-upstream/internal/rid"
)

const (
	ContentType    = "application/json; charset=utf8"
	HeaderDataName = "X-Header-Data"
)

// BodyOverhead is the size of the indented {"id","data"} document with an
// empty data field.
const BodyOverhead = len("{\n  \"id\": \"\",\n  \"data\": \"\"\n}") + rid.Length

// HeaderOverhead is the size of the HTTP/1.1 response head net/http writes
// for this handler, excluding the X-Header-Data value:
//
//	HTTP/1.1 200 OK\r\n                                   17
//	Content-Type: application/json; charset=utf8\r\n      46
//	Date: Mon, 02 Jan 2006 15:04:05 GMT\r\n               37
//	Transfer-Encoding: chunked\r\n                        28
//	X-Header-Data: \r\n                                   17
//	\r\n                                                   2
const HeaderOverhead = 147

type Response struct {
	Header http.Header
	Body   *Body
}

// Body is produced on demand by WriteTo; nothing is serialized until the
// body delay has elapsed.
type Body struct {
	id    string
	delay time.Duration
	size  *uint64
}

type payload struct {
	ID   string  `json:"id"`
	Data *string `json:"data,omitempty"`
}

// Bytes returns the serialized document.
func (b *Body) Bytes() []byte {
	p := payload{ID: b.id}
	if b.size != nil {
		data := pad.String(*b.size, uint64(BodyOverhead))
		p.Data = &data
	}
	out, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		panic("echo: encode body: " + err.Error())
	}
	return out
}

// WriteTo waits out the body delay, then writes the document as a single
// chunk. It returns ctx.Err() if ctx ends during the delay.
func (b *Body) WriteTo(ctx context.Context, w io.Writer) (int64, error) {
	if err := wait(ctx, b.delay); err != nil {
		return 0, err
	}
	n, err := w.Write(b.Bytes())
	return int64(n), err
}

type Composer struct {
	cfg config.EchoConfig
}

func NewComposer(cfg config.EchoConfig) *Composer {
	return &Composer{cfg: cfg}
}

// Compose builds the response for id. The header delay runs after the
// headers are fully assembled and before Compose returns; ctx ending during
// it aborts with ctx.Err().
func (c *Composer) Compose(ctx context.Context, id string) (*Response, error) {
	body := &Body{
		id:    id,
		delay: c.cfg.BodyDelay(),
		size:  c.cfg.SizeBodyBytes,
	}

	h := make(http.Header, 2)
	h.Set("Content-Type", ContentType)

	if c.cfg.SizeHeadersBytes != nil {
		v := pad.String(*c.cfg.SizeHeadersBytes, HeaderOverhead)
		if !httpguts.ValidHeaderFieldValue(v) {
			panic("echo: padded header value is not a valid field value")
		}
		h.Set(HeaderDataName, v)
	}

	if err := wait(ctx, c.cfg.HeaderDelay()); err != nil {
		return nil, err
	}
	return &Response{Header: h, Body: body}, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
