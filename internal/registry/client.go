// Package registry is the single source of truth for the wire
// protocol spoken with the content-addressed image registry: login
// check, descriptor query/push, chunk push, and repository attach.
//
// Grounded on other_examples' standalone chunked-upload client
// (4c78b19b_yuksbg-atlassian-big-file-uploader) for the overall shape
// of a typed HTTP client wrapping mime/multipart requests (a
// *http.Client field, one method per endpoint, multipart.Writer +
// CreateFormFile/WriteField), and on
// original_source/src/upload.rs for the descriptor-push endpoint
// shape (multipart form, single "file" part, octet-stream).
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
)

// DefaultBaseURL is used when REGISTRY_URL is unset.
const DefaultBaseURL = "https://registry.golem.network"

// Client is a stateless wrapper around the registry's HTTP endpoints.
// A single *http.Client is shared across every call and across
// concurrent chunk-upload workers; connection pooling is delegated to it.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client against baseURL (trailing slashes trimmed). No
// timeout is applied to the request body: requests are plain HTTP
// clients without request timeouts on the body stream; only the
// dial/TLS handshake gets a platform-typical timeout via a custom Dialer.
func New(baseURL string) *Client {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport},
	}
}

func (c *Client) url(format string, args ...any) string {
	return c.baseURL + fmt.Sprintf(format, args...)
}

// CheckLogin verifies username/password against the registry. It
// returns a pusherr.AuthError on HTTP 401 and a pusherr.NetworkError on
// any other failure.
func (c *Client) CheckLogin(ctx context.Context, username, password string) error {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return pusherr.NewIOError("marshal", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/auth/pat/login"), bytes.NewReader(body))
	if err != nil {
		return pusherr.NewNetworkError("login", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pusherr.NewNetworkError("login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return pusherr.NewAuthError("invalid credentials")
	}
	if resp.StatusCode != http.StatusOK {
		return statusError("login", resp)
	}
	return nil
}

// QueryDescriptor fetches the server-side state of descrHash.
func (c *Client) QueryDescriptor(ctx context.Context, descrHash string) (DescriptorState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/v1/image/descr/%s", descrHash), nil)
	if err != nil {
		return DescriptorState{}, pusherr.NewNetworkError("query descriptor", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return DescriptorState{}, pusherr.NewNetworkError("query descriptor", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DescriptorState{}, statusError("query descriptor", resp)
	}

	var wire wireValidateUploadState
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return DescriptorState{}, pusherr.NewNetworkError("query descriptor: decode response", err)
	}
	return wire.toState(), nil
}

// PushDescriptor uploads the serialized descriptor bytes.
func (c *Client) PushDescriptor(ctx context.Context, descrBytes []byte) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "descriptor.bin")
	if err != nil {
		return pusherr.NewIOError("build multipart", "", err)
	}
	if _, err := part.Write(descrBytes); err != nil {
		return pusherr.NewIOError("build multipart", "", err)
	}
	if err := w.Close(); err != nil {
		return pusherr.NewIOError("build multipart", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/image/push/descr"), body)
	if err != nil {
		return pusherr.NewNetworkError("push descriptor", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return pusherr.NewNetworkError("push descriptor", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError("push descriptor", resp)
	}
	return nil
}

// ChunkUpload describes one chunk PUT's payload.
type ChunkUpload struct {
	DescrHash   string
	ChunkNo     int
	ChunkSHA256 string
	ChunkPos    uint64
	ChunkLen    uint64
	Data        io.Reader
}

// PushChunk uploads one chunk. Data is streamed directly into the
// multipart body; it is never buffered whole in memory.
func (c *Client) PushChunk(ctx context.Context, up ChunkUpload) error {
	bodyReader, bodyWriter := io.Pipe()
	mw := multipart.NewWriter(bodyWriter)

	go func() {
		err := func() error {
			if err := mw.WriteField("descr-sha256", up.DescrHash); err != nil {
				return err
			}
			if err := mw.WriteField("chunk-no", strconv.Itoa(up.ChunkNo)); err != nil {
				return err
			}
			if err := mw.WriteField("chunk-sha256", up.ChunkSHA256); err != nil {
				return err
			}
			if err := mw.WriteField("chunk-pos", strconv.FormatUint(up.ChunkPos, 10)); err != nil {
				return err
			}
			if err := mw.WriteField("chunk-len", strconv.FormatUint(up.ChunkLen, 10)); err != nil {
				return err
			}
			part, err := mw.CreateFormFile("file", fmt.Sprintf("chunk-%d.bin", up.ChunkNo))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, up.Data); err != nil {
				return err
			}
			return mw.Close()
		}()
		_ = bodyWriter.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/image/push/chunk"), bodyReader)
	if err != nil {
		return pusherr.NewNetworkError("push chunk", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return pusherr.NewNetworkError(fmt.Sprintf("push chunk %d", up.ChunkNo), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return statusError(fmt.Sprintf("push chunk %d", up.ChunkNo), resp)
	}
	return nil
}

// AttachOptions configures the repository-attach call.
type AttachOptions struct {
	Tag        string
	Username   string
	Repository string
	Login      string
	Token      string
	// Check, when true, performs a dry-run attach.
	Check bool
}

// Attach associates an uploaded descriptor with a repository
// coordinate, optionally in dry-run mode.
func (c *Client) Attach(ctx context.Context, descrHash string, opts AttachOptions) (string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fields := map[string]string{
		"tag":        opts.Tag,
		"username":   opts.Username,
		"repository": opts.Repository,
		"login":      opts.Login,
		"token":      opts.Token,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", pusherr.NewIOError("build multipart", "", err)
		}
	}
	if opts.Check {
		if err := w.WriteField("check", "true"); err != nil {
			return "", pusherr.NewIOError("build multipart", "", err)
		}
	}
	if err := w.Close(); err != nil {
		return "", pusherr.NewIOError("build multipart", "", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/v1/image/descr/attach/%s", descrHash), body)
	if err != nil {
		return "", pusherr.NewNetworkError("attach", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", pusherr.NewNetworkError("attach", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", pusherr.NewNetworkStatusError("attach", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return pusherr.NewNetworkStatusError(op, resp.StatusCode, string(body))
}
