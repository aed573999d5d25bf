package registry_test

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemfactory/gvmkit-push/internal/pusherr"
	"github.com/golemfactory/gvmkit-push/internal/registry"
)

func TestCheckLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/pat/login", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	err := c.CheckLogin(context.Background(), "u", "p")
	require.NoError(t, err)
}

func TestCheckLogin_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	err := c.CheckLogin(context.Background(), "u", "wrong")
	require.Error(t, err)
	var authErr *pusherr.AuthError
	assert.ErrorAs(t, err, &authErr)
}

func TestQueryDescriptor_StatesCollapseCorrectly(t *testing.T) {
	cases := []struct {
		name       string
		respBody   string
		wantStatus registry.DescriptorStatus
	}{
		{"missing", `{"descriptor":"missing"}`, registry.StatusUnknown},
		{"registered", `{"descriptor":"ok"}`, registry.StatusRegistered},
		{"partial", `{"descriptor":"ok","status":"partial","chunks":[1,0,1]}`, registry.StatusPartial},
		{"full", `{"descriptor":"ok","status":"full","chunks":[1,1,1]}`, registry.StatusFull},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/image/descr/abc123", r.URL.Path)
				_, _ = w.Write([]byte(tc.respBody))
			}))
			defer srv.Close()

			c := registry.New(srv.URL)
			state, err := c.QueryDescriptor(context.Background(), "abc123")
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, state.Status)
		})
	}
}

func TestPushDescriptor_SendsRawBytesAsFilePart(t *testing.T) {
	var gotBytes []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/image/push/descr", r.URL.Path)
		mr, err := r.MultipartReader()
		require.NoError(t, err)
		part, err := mr.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "file", part.FormName())
		gotBytes, _ = io.ReadAll(part)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	payload := []byte{1, 2, 3, 4, 5}
	err := c.PushDescriptor(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, gotBytes)
}

func TestPushDescriptor_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	err := c.PushDescriptor(context.Background(), []byte{1})
	require.Error(t, err)
	var netErr *pusherr.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusInternalServerError, netErr.StatusCode)
}

func TestPushChunk_SendsAllFieldsAndData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "deadbeef", r.FormValue("descr-sha256"))
		assert.Equal(t, "3", r.FormValue("chunk-no"))
		assert.Equal(t, "cafebabe", r.FormValue("chunk-sha256"))
		assert.Equal(t, "100", r.FormValue("chunk-pos"))
		assert.Equal(t, "50", r.FormValue("chunk-len"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("hello chunk"), data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	err := c.PushChunk(context.Background(), registry.ChunkUpload{
		DescrHash:   "deadbeef",
		ChunkNo:     3,
		ChunkSHA256: "cafebabe",
		ChunkPos:    100,
		ChunkLen:    50,
		Data:        stringsReader("hello chunk"),
	})
	require.NoError(t, err)
}

func TestAttach_ReturnsBodyOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/image/descr/attach/abc", r.URL.Path)
		mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/form-data", mt)

		mr := multipart.NewReader(r.Body, params["boundary"])
		form, err := mr.ReadForm(1 << 20)
		require.NoError(t, err)
		assert.Equal(t, "latest", form.Value["tag"][0])
		assert.Equal(t, "true", form.Value["check"][0])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("attached"))
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	body, err := c.Attach(context.Background(), "abc", registry.AttachOptions{
		Tag: "latest", Username: "u", Repository: "r", Login: "u", Token: "t", Check: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "attached", body)
}

func TestAttach_NonOKReturnsBodyInError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := registry.New(srv.URL)
	_, err := c.Attach(context.Background(), "abc", registry.AttachOptions{})
	require.Error(t, err)
	var netErr *pusherr.NetworkError
	assert.ErrorAs(t, err, &netErr)
	assert.Equal(t, "nope", netErr.Body)
}

func TestQueryDescriptor_ContextCancellation(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	c := registry.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.QueryDescriptor(ctx, "abc")
		errCh <- err
	}()

	cancel()
	err := <-errCh
	require.Error(t, err)
}

type stringsReaderT struct {
	s   string
	pos int
}

func stringsReader(s string) *stringsReaderT { return &stringsReaderT{s: s} }

func (r *stringsReaderT) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}
