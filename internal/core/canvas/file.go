package canvas

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/markdave123-py/coursebot/internal/core"
)

type apiFile struct {
	ID            int64     `json:"id"`
	FolderID      int64     `json:"folder_id"`
	DisplayName   string    `json:"display_name"`
	Filename      string    `json:"filename"`
	URL           string    `json:"url"`
	UpdatedAt     time.Time `json:"updated_at"`
	Hidden        bool      `json:"hidden"`
	Locked        bool      `json:"locked"`
	HiddenForUser bool      `json:"hidden_for_user"`
	LockedForUser bool      `json:"locked_for_user"`
}

type apiFolder struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// File is one Canvas course file.
type File struct {
	meta   apiFile
	folder string
	client *Client
}

func (f *File) ID() int64            { return f.meta.ID }
func (f *File) DisplayName() string  { return f.meta.DisplayName }
func (f *File) FolderPath() string   { return f.folder }
func (f *File) UpdatedAt() time.Time { return f.meta.UpdatedAt }

// URL drops the download suffix so the link opens the Canvas file page.
func (f *File) URL() string {
	if i := strings.Index(f.meta.URL, "/download?download_frd"); i >= 0 {
		return f.meta.URL[:i]
	}
	return f.meta.URL
}

func (f *File) Restricted() bool {
	return f.meta.Hidden || f.meta.Locked || f.meta.HiddenForUser || f.meta.LockedForUser
}

// Fetch downloads the file body through the signed download URL.
func (f *File) Fetch(ctx context.Context) ([]byte, error) {
	if f.meta.URL == "" {
		return nil, fmt.Errorf("canvas: file %d has no download url", f.meta.ID)
	}
	resp, err := f.client.do(ctx, f.meta.URL)
	if err != nil {
		return nil, fmt.Errorf("download file %d: %w", f.meta.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read file %d: %w", f.meta.ID, err)
	}
	return data, nil
}

var _ core.RemoteFile = (*File)(nil)
