// Package download 把邮件附件保存到本地目录。
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/pool"
	"tempmail/client/internal/security"
)

// ErrNoAttachments 邮件没有附件
var ErrNoAttachments = errors.New("no attachments")

// Source 附件下载来源，返回服务端提供的文件名和写入的字节数
type Source interface {
	Download(ctx context.Context, id string, w io.Writer) (string, int64, error)
}

// Result 一个附件的下载结果
type Result struct {
	Attachment domain.Attachment  `json:"attachment"`
	Path       string             `json:"path,omitempty"`
	Size       int64              `json:"size"`
	Warnings   []security.Warning `json:"warnings,omitempty"`
	Err        error              `json:"-"`
}

// Recorder 记录附件大小
type Recorder interface {
	RecordAttachmentSize(size int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordAttachmentSize(int64) {}

// Downloader 附件下载器
type Downloader struct {
	src      Source
	dir      string
	workers  int
	guard    *security.AttachmentSecurity
	recorder Recorder
	log      *zap.Logger
}

// New 创建附件下载器
//
// 参数:
//   - src: 下载来源，通常是上游 API 客户端
//   - dir: 保存目录，不存在时自动创建
//   - workers: 批量下载时的并发数
//   - log: 日志记录器
func New(src Source, dir string, workers int, log *zap.Logger) *Downloader {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Downloader{
		src:      src,
		dir:      dir,
		workers:  workers,
		guard:    security.NewAttachmentSecurity(),
		recorder: nopRecorder{},
		log:      log.Named("download"),
	}
}

// SetRecorder 设置指标记录器
func (d *Downloader) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	d.recorder = r
}

// Dir 返回保存目录
func (d *Downloader) Dir() string {
	return d.dir
}

// Download 下载单个附件
//
// 文件名优先使用服务端 Content-Disposition 中的名称，没有时使用附件自带的文件名。
// 内容先写入临时文件，完成后再改名，失败时不留下不完整的文件。
func (d *Downloader) Download(ctx context.Context, att domain.Attachment) (Result, error) {
	res := Result{Attachment: att, Warnings: []security.Warning{}}

	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return res, fmt.Errorf("create download dir: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".tmail-*.part")
	if err != nil {
		return res, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	served, n, err := d.src.Download(ctx, att.ID, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return res, fmt.Errorf("download attachment %s: %w", att.ID, err)
	}
	res.Size = n

	name := served
	if name == "" {
		name = att.Filename
	}
	name = d.guard.SafeFilename(name, "attachment-"+att.ID)

	if dangerous, reason := d.guard.CheckFilename(name); dangerous {
		res.Warnings = append(res.Warnings, security.Warning{Code: security.WarnAttachment, Detail: reason})
	}
	if header, err := readHeader(tmpName); err == nil {
		if dangerous, reason := d.guard.CheckContent(header); dangerous {
			res.Warnings = append(res.Warnings, security.Warning{Code: security.WarnAttachment, Detail: reason})
		}
	}

	path, err := d.place(tmpName, name)
	if err != nil {
		return res, err
	}
	res.Path = path
	d.recorder.RecordAttachmentSize(n)

	d.log.Info("attachment saved",
		zap.String("id", att.ID),
		zap.String("path", path),
		zap.Int64("size", n),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// DownloadAll 并发下载邮件的所有附件
//
// 返回值:
//   - []Result: 与 atts 顺序一致的下载结果，单个失败记录在 Result.Err 中
//   - error: 没有附件时返回 ErrNoAttachments
func (d *Downloader) DownloadAll(ctx context.Context, atts []domain.Attachment) ([]Result, error) {
	if len(atts) == 0 {
		return nil, ErrNoAttachments
	}

	results := make([]Result, len(atts))
	done := make([]bool, len(atts))

	p := pool.NewWorkerPool(d.workers, len(atts), d.log)
	p.Start(ctx)
	for i, att := range atts {
		if err := p.Submit(ctx, func(ctx context.Context) {
			res, err := d.Download(ctx, att)
			res.Err = err
			results[i] = res
			done[i] = true
		}); err != nil {
			break
		}
	}
	p.Stop()

	for i := range results {
		if !done[i] {
			results[i] = Result{Attachment: atts[i], Err: context.Cause(ctx)}
		}
	}
	return results, nil
}

// place 把临时文件移动到目标文件名，文件已存在时追加序号
func (d *Downloader) place(tmpName, name string) (string, error) {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
		}
		path := filepath.Join(d.dir, candidate)

		// O_EXCL 占位，避免并发下载同名附件时互相覆盖
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create %s: %w", path, err)
		}
		f.Close()

		if err := os.Rename(tmpName, path); err != nil {
			os.Remove(path)
			return "", fmt.Errorf("save %s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many files named %q in %s", name, d.dir)
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}
