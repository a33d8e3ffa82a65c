package s3

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const metaHeaderPrefix = "X-Amz-Meta-"

// NewMockForTests returns a Store whose client talks to an in-process bucket
// over a fake transport. Only the object calls the bundle path makes are
// served: HEAD, GET and PUT.
func NewMockForTests() *Store {
	bucket := &fakeBucket{objects: make(map[string]fakeObject)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: bucket}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://bundles.s3.test")
	})
	return &Store{client: client, bucket: "bundles"}
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
	etag        string
	modified    time.Time
}

// fakeBucket is an http.RoundTripper holding objects keyed by path-style
// object key.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func (b *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	_, key, _ := strings.Cut(strings.TrimPrefix(req.URL.Path, "/"), "/")
	b.mu.Lock()
	defer b.mu.Unlock()
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := b.objects[key]
		if !ok {
			return reply(http.StatusNotFound, nil, nil), nil
		}
		var body []byte
		if req.Method == http.MethodGet {
			body = obj.body
		}
		return reply(http.StatusOK, obj.headers(), body), nil
	case http.MethodPut:
		body, err := readPayload(req)
		if err != nil {
			return reply(http.StatusBadRequest, nil, nil), nil
		}
		sum := md5.Sum(body)
		obj := fakeObject{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			meta:        map[string]string{},
			etag:        hex.EncodeToString(sum[:]),
			modified:    time.Now().UTC().Truncate(time.Second),
		}
		for name, values := range req.Header {
			if strings.HasPrefix(name, metaHeaderPrefix) && len(values) > 0 {
				obj.meta[strings.ToLower(strings.TrimPrefix(name, metaHeaderPrefix))] = values[0]
			}
		}
		b.objects[key] = obj
		return reply(http.StatusOK, http.Header{"Etag": {strconv.Quote(obj.etag)}}, nil), nil
	default:
		return reply(http.StatusNotImplemented, nil, nil), nil
	}
}

func (o fakeObject) headers() http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(o.body))},
		"Etag":           {strconv.Quote(o.etag)},
		"Last-Modified":  {o.modified.Format(http.TimeFormat)},
	}
	if o.contentType != "" {
		h.Set("Content-Type", o.contentType)
	}
	for k, v := range o.meta {
		h.Set(metaHeaderPrefix+k, v)
	}
	return h
}

func reply(status int, header http.Header, body []byte) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(bytes.NewReader(body))}
}

// readPayload returns the object bytes of a PUT, undoing the aws-chunked
// framing the SDK applies when it streams a trailing checksum.
func readPayload(req *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
		return raw, nil
	}
	r := bufio.NewReader(bytes.NewReader(raw))
	var out bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("chunk header: %w", err)
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(line), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("chunk size %q: %w", sizeHex, err)
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, r, size); err != nil {
			return nil, fmt.Errorf("chunk body: %w", err)
		}
		if _, err := r.Discard(2); err != nil {
			return nil, fmt.Errorf("chunk terminator: %w", err)
		}
	}
}
