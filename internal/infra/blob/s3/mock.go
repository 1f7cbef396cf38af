package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5" // #nosec G501 -- S3 ETags are MD5 digests
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mockPageSize keeps listings short so pagination is exercised.
const mockPageSize = 2

// NewMock returns a Store whose client talks to an in-process fake bucket.
// It serves the object operations Store issues and nothing else.
func NewMock(ctx context.Context) (*Store, error) {
	bucket := &fakeBucket{objects: make(map[string]fakeObject)}
	return New(ctx, Config{
		Bucket:          "slate-test",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
	})
}

type fakeObject struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// path style: /<bucket>/<key>
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		return b.list(req), nil
	case req.Method == http.MethodPut:
		return b.put(req, key)
	case req.Method == http.MethodGet, req.Method == http.MethodHead:
		obj, ok := b.objects[key]
		if !ok {
			return fakeError(req, http.StatusNotFound, "NoSuchKey"), nil
		}
		body := obj.body
		if req.Method == http.MethodHead {
			body = nil
		}
		resp := respond(req, http.StatusOK, body)
		resp.Header.Set("Content-Length", strconv.Itoa(len(obj.body)))
		resp.Header.Set("Content-Type", obj.contentType)
		resp.Header.Set("ETag", `"`+etag(obj.body)+`"`)
		resp.Header.Set("Last-Modified", obj.modified.Format(http.TimeFormat))
		for k, v := range obj.metadata {
			resp.Header.Set("X-Amz-Meta-"+k, v)
		}
		return resp, nil
	case req.Method == http.MethodDelete:
		delete(b.objects, key)
		return respond(req, http.StatusNoContent, nil), nil
	}
	return fakeError(req, http.StatusNotImplemented, "NotImplemented"), nil
}

func (b *fakeBucket) put(req *http.Request, key string) (*http.Response, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
		if raw, err = decodeChunked(raw); err != nil {
			return fakeError(req, http.StatusBadRequest, "IncompleteBody"), nil
		}
	}
	if _, exists := b.objects[key]; exists && req.Header.Get("If-None-Match") == "*" {
		return fakeError(req, http.StatusPreconditionFailed, "PreconditionFailed"), nil
	}
	meta := make(map[string]string)
	for name, values := range req.Header {
		if k, ok := strings.CutPrefix(strings.ToLower(name), "x-amz-meta-"); ok && len(values) > 0 {
			meta[k] = values[0]
		}
	}
	b.objects[key] = fakeObject{
		body:        raw,
		contentType: req.Header.Get("Content-Type"),
		metadata:    meta,
		modified:    time.Now().UTC().Truncate(time.Second),
	}
	resp := respond(req, http.StatusOK, nil)
	resp.Header.Set("ETag", `"`+etag(raw)+`"`)
	return resp, nil
}

func (b *fakeBucket) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix, after := q.Get("prefix"), q.Get("continuation-token")
	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > after {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := len(keys) > mockPageSize
	if truncated {
		keys = keys[:mockPageSize]
	}
	var buf strings.Builder
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&buf, "<IsTruncated>%t</IsTruncated><KeyCount>%d</KeyCount>", truncated, len(keys))
	if truncated {
		fmt.Fprintf(&buf, "<NextContinuationToken>%s</NextContinuationToken>", keys[len(keys)-1])
	}
	for _, k := range keys {
		obj := b.objects[k]
		fmt.Fprintf(&buf, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;%s&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(obj.body), etag(obj.body), obj.modified.Format(time.RFC3339))
	}
	buf.WriteString("</ListBucketResult>")
	resp := respond(req, http.StatusOK, []byte(buf.String()))
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated until a zero length chunk, followed by trailers.
func decodeChunked(raw []byte) ([]byte, error) {
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		size, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		n, err := strconv.ParseInt(size, 16, 64)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, n); err != nil {
			return nil, err
		}
		if _, err := r.Discard(2); err != nil {
			return nil, err
		}
	}
}

func etag(body []byte) string {
	sum := md5.Sum(body) // #nosec G401 -- matches S3 ETag semantics
	return hex.EncodeToString(sum[:])
}

func respond(req *http.Request, status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode:    status,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func fakeError(req *http.Request, status int, code string) *http.Response {
	var body []byte
	if req.Method != http.MethodHead {
		body = []byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>` + code + `</Code><Message>` + code + `</Message></Error>`)
	}
	resp := respond(req, status, body)
	resp.Header.Set("Content-Type", "application/xml")
	return resp
}
