package download

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/security"
)

type fakeFile struct {
	name string
	body string
	err  error
}

type fakeSource struct {
	mu    sync.Mutex
	files map[string]fakeFile
	calls int
}

func (f *fakeSource) Download(_ context.Context, id string, w io.Writer) (string, int64, error) {
	f.mu.Lock()
	f.calls++
	file, ok := f.files[id]
	f.mu.Unlock()
	if !ok {
		return "", 0, errors.New("not found")
	}
	if file.err != nil {
		return "", 0, file.err
	}
	n, err := io.Copy(w, strings.NewReader(file.body))
	return file.name, n, err
}

type sizeRecorder struct {
	mu    sync.Mutex
	sizes []int64
}

func (r *sizeRecorder) RecordAttachmentSize(size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, size)
}

func (r *sizeRecorder) values() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.sizes...)
}

func TestDownloader_Download(t *testing.T) {
	t.Run("使用服务端文件名", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {name: "report.pdf", body: "%PDF-1.7"}}}
		d := New(src, dir, 2, nil)

		res, err := d.Download(context.Background(), domain.Attachment{ID: "a1", Filename: "ignored.pdf"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "report.pdf"), res.Path)
		assert.Equal(t, int64(8), res.Size)
		assert.Empty(t, res.Warnings)

		data, err := os.ReadFile(res.Path)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.7", string(data))
	})

	t.Run("没有服务端文件名时使用附件文件名", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {body: "x"}}}
		d := New(src, dir, 1, nil)

		res, err := d.Download(context.Background(), domain.Attachment{ID: "a1", Filename: "../notes.txt"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "notes.txt"), res.Path)
	})

	t.Run("都没有时使用附件 ID", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {body: "x"}}}
		d := New(src, dir, 1, nil)

		res, err := d.Download(context.Background(), domain.Attachment{ID: "a1"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "attachment-a1"), res.Path)
	})

	t.Run("同名文件追加序号", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {name: "a.txt", body: "1"}}}
		d := New(src, dir, 1, nil)

		first, err := d.Download(context.Background(), domain.Attachment{ID: "a1"})
		require.NoError(t, err)
		second, err := d.Download(context.Background(), domain.Attachment{ID: "a1"})
		require.NoError(t, err)

		assert.Equal(t, filepath.Join(dir, "a.txt"), first.Path)
		assert.Equal(t, filepath.Join(dir, "a (1).txt"), second.Path)
	})

	t.Run("危险附件给出提示", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {name: "setup.exe", body: "MZ\x90\x00"}}}
		d := New(src, dir, 1, nil)

		res, err := d.Download(context.Background(), domain.Attachment{ID: "a1"})
		require.NoError(t, err)
		require.Len(t, res.Warnings, 2)
		assert.Equal(t, security.WarnAttachment, res.Warnings[0].Code)
	})

	t.Run("失败时不留下文件", func(t *testing.T) {
		dir := t.TempDir()
		src := &fakeSource{files: map[string]fakeFile{"a1": {err: errors.New("reset")}}}
		d := New(src, dir, 1, nil)

		_, err := d.Download(context.Background(), domain.Attachment{ID: "a1", Filename: "x.txt"})
		require.Error(t, err)

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestDownloader_DownloadAll(t *testing.T) {
	dir := t.TempDir()
	src := &fakeSource{files: map[string]fakeFile{
		"a1": {name: "one.txt", body: "1"},
		"a2": {name: "two.txt", body: "22"},
		"a3": {err: errors.New("gone")},
	}}
	d := New(src, dir, 2, nil)
	sizes := &sizeRecorder{}
	d.SetRecorder(sizes)

	results, err := d.DownloadAll(context.Background(), []domain.Attachment{
		{ID: "a1"}, {ID: "a2"}, {ID: "a3"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, filepath.Join(dir, "one.txt"), results[0].Path)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, int64(2), results[1].Size)
	assert.Error(t, results[2].Err)
	assert.Equal(t, 3, src.calls)
	assert.ElementsMatch(t, []int64{1, 2}, sizes.values())

	_, err = d.DownloadAll(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoAttachments)
}
