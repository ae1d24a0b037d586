package chatclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"hrchat/cmd/internal/chat"
	v1 "hrchat/shared/contracts/chat/v1"
)

// HTTPUploader streams files to the server's /uploads endpoint.
type HTTPUploader struct {
	base   *url.URL
	client *http.Client
}

var _ chat.Uploader = (*HTTPUploader)(nil)

// NewHTTPUploader targets baseURL (scheme://host[:port]). A nil client means http.DefaultClient.
func NewHTTPUploader(baseURL string, client *http.Client) (*HTTPUploader, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("chatclient: upload base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("chatclient: upload base url must be http(s), got %q", u.Scheme)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPUploader{base: u, client: client}, nil
}

// Upload implements chat.Uploader. progress receives cumulative bytes as the body is read.
func (u *HTTPUploader) Upload(ctx context.Context, f chat.File, progress func(sent, total int64)) (chat.Attachment, error) {
	rc, err := f.Open()
	if err != nil {
		return chat.Attachment{}, err
	}
	defer func() { _ = rc.Close() }()

	target := u.base.ResolveReference(&url.URL{Path: "/uploads", RawQuery: url.Values{"filename": {f.Name()}}.Encode()})
	body := &progressReader{r: rc, total: f.Size(), fn: progress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return chat.Attachment{}, err
	}
	req.ContentLength = f.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := u.client.Do(req)
	if err != nil {
		return chat.Attachment{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		var er struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er); err != nil || er.Error.Code == "" {
			return chat.Attachment{}, &RemoteError{Code: fmt.Sprintf("http_%d", resp.StatusCode), Message: resp.Status}
		}
		return chat.Attachment{}, &RemoteError{Code: er.Error.Code, Message: er.Error.Message}
	}

	var p v1.AttachmentPayload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return chat.Attachment{}, fmt.Errorf("decode upload response: %w", err)
	}

	ref, err := url.Parse(p.URL)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("upload response url: %w", err)
	}
	return chat.Attachment{
		URL:      u.base.ResolveReference(ref).String(),
		Filename: p.Filename,
		Size:     p.Size,
		MimeType: p.MimeType,
	}, nil
}

type progressReader struct {
	r     io.Reader
	total int64
	sent  atomic.Int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.fn != nil {
		p.fn(p.sent.Add(int64(n)), p.total)
	}
	return n, err
}
