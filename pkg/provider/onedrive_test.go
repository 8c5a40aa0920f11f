package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGraphStub serves a minimal client-credentials token endpoint plus a
// two-level drive with one paginated folder listing.
func newGraphStub(t *testing.T) (*httptest.Server, *int) {
	t.Helper()

	tokenRequests := 0
	mux := http.NewServeMux()

	mux.HandleFunc("/contoso/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.FormValue("grant_type"))
		assert.Equal(t, "app-id", r.FormValue("client_id"))
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":3600,"token_type":"Bearer"}`)
	})

	requireAuth := func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return false
		}
		return true
	}

	mux.HandleFunc("/drives/drive-1/root/children", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		fmt.Fprint(w, `{"value":[
			{"id":"item-a","name":"a.txt","cTag":"\"ctag-a\"",
			 "lastModifiedDateTime":"2026-03-01T10:00:00Z",
			 "file":{"mimeType":"text/plain"},
			 "parentReference":{"path":"/drives/drive-1/root:"}},
			{"id":"folder-1","name":"reports","folder":{"childCount":2},
			 "parentReference":{"path":"/drives/drive-1/root:"}}
		]}`)
	})

	mux.HandleFunc("/drives/drive-1/items/folder-1/children", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[
				{"id":"item-c","name":"c.docx","cTag":"ctag-c",
				 "lastModifiedDateTime":"2026-03-02T11:30:00Z",
				 "file":{"mimeType":"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
				 "parentReference":{"path":"/drives/drive-1/root:/reports"}}
			]}`)
			return
		}
		fmt.Fprintf(w, `{"value":[
			{"id":"item-b","name":"b.md","cTag":"ctag-b",
			 "lastModifiedDateTime":"02 Mar 2026 09:15:00 GMT",
			 "file":{"mimeType":"text/markdown"},
			 "parentReference":{"path":"/drives/drive-1/root:/reports"}}
		],"@odata.nextLink":"%s"}`, "http://"+r.Host+"/drives/drive-1/items/folder-1/children?page=2")
	})

	mux.HandleFunc("/drives/drive-1/items/item-a/content", func(w http.ResponseWriter, r *http.Request) {
		if !requireAuth(w, r) {
			return
		}
		fmt.Fprint(w, "alpha content")
	})

	mux.HandleFunc("/drives/drive-1/items/item-gone/content", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &tokenRequests
}

func newStubProvider(t *testing.T) (*OneDriveProvider, *int) {
	t.Helper()

	server, tokenRequests := newGraphStub(t)
	p, err := NewOneDriveProvider("corp-drive", OneDriveConfig{
		TenantID:     "contoso",
		ClientID:     "app-id",
		ClientSecret: "secret",
		DriveID:      "drive-1",
		GraphBaseURL: server.URL,
		LoginBaseURL: server.URL,
	}, nil)
	require.NoError(t, err)
	return p, tokenRequests
}

func TestOneDriveProvider_Enumerate(t *testing.T) {
	p, tokenRequests := newStubProvider(t)

	descriptors, err := p.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, descriptors, 3)

	byID := map[string]Descriptor{}
	for _, d := range descriptors {
		byID[d.DocumentID] = d
		assert.Equal(t, TypeOneDrive, d.ProviderType)
		assert.Equal(t, "corp-drive", d.ProviderName)
	}

	a := byID["item-a"]
	assert.Equal(t, "a.txt", a.Filename)
	assert.Equal(t, "a.txt", a.RelativePath)
	assert.Equal(t, "ctag-a", a.ETag, "ctag quoting should be stripped")
	assert.Equal(t, 2026, a.LastModified.Year())

	b := byID["item-b"]
	assert.Equal(t, "reports/b.md", b.RelativePath)
	assert.False(t, b.LastModified.IsZero(), "legacy timestamp format should still parse")

	c := byID["item-c"]
	assert.Equal(t, "reports/c.docx", c.RelativePath)

	// One token grant covers the whole walk.
	assert.Equal(t, 1, *tokenRequests)
}

func TestOneDriveProvider_Fetch(t *testing.T) {
	p, _ := newStubProvider(t)

	rc, err := p.Fetch(context.Background(), "item-a")
	require.NoError(t, err)
	defer rc.Close()

	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "alpha content", string(content))

	_, err = p.Fetch(context.Background(), "item-gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOneDriveConfig_Validate(t *testing.T) {
	valid := OneDriveConfig{
		TenantID:     "contoso",
		ClientID:     "app-id",
		ClientSecret: "secret",
		DriveID:      "drive-1",
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.DriveID = ""
	assert.Error(t, missing.Validate())
}

func TestNew_FactoryDispatch(t *testing.T) {
	_, err := New("ftp", "x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider type")

	_, err = New(TypeLocal, "default", map[string]any{}, nil)
	require.Error(t, err, "missing path should fail validation")

	_, err = New(TypeOneDrive, "corp", map[string]any{"tenant_id": "t"}, nil)
	require.Error(t, err)
}

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, ValidateSettings(TypeLocal, map[string]any{"path": "/srv/docs"}))
	assert.Error(t, ValidateSettings(TypeLocal, map[string]any{}))
	assert.Error(t, ValidateSettings(TypeS3, map[string]any{"bucket": "b"}), "region is required")
	assert.NoError(t, ValidateSettings("ftp", map[string]any{}), "unknown types are left to the factory")
}
