package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"tempmail/client/internal/domain"
	"tempmail/client/internal/download"
	"tempmail/client/internal/render"
	"tempmail/client/internal/security"
)

var errMissingFlag = errors.New("missing required flag")

// domains 列出服务端提供的域名
func (a *app) domains(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("domains", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := a.api.Domains(ctx)
	if err != nil {
		return err
	}
	for _, d := range list {
		fmt.Fprintln(a.out, d)
	}
	return nil
}

// random 生成随机地址，不修改当前会话
func (a *app) random(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("random", flag.ContinueOnError)
	dom := fs.String("domain", "", "使用指定域名，留空时随机选择")
	if err := fs.Parse(args); err != nil {
		return err
	}

	list, err := a.api.Domains(ctx)
	if err != nil {
		return err
	}

	gen := domain.NewAddressGenerator(nil)
	target := strings.ToLower(strings.TrimSpace(*dom))
	switch {
	case target == "":
		target = gen.PickDomain(list)
		if target == "" {
			return errors.New("no domains available")
		}
	case !domain.ContainsDomain(list, target):
		return fmt.Errorf("%w: %s", domain.ErrDomainNotAllowed, target)
	}

	fmt.Fprintln(a.out, gen.Address(target))
	return nil
}

// list 列出邮箱中的邮件
func (a *app) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	address := fs.String("address", a.cfg.Session.Address, "邮箱地址")
	limit := fs.Int("limit", a.cfg.Sync.PageSize, "每页数量")
	offset := fs.Int("offset", 0, "跳过的邮件数量")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *address == "" {
		return fmt.Errorf("%w: -address", errMissingFlag)
	}
	if *limit <= 0 || *offset < 0 {
		return errors.New("limit must be positive and offset must not be negative")
	}

	envelopes, err := a.api.Fetch(ctx, *address, *limit, *offset)
	if err != nil {
		return err
	}
	if len(envelopes) == 0 {
		fmt.Fprintln(a.out, "no mail")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRECEIVED\tFROM\tSUBJECT")
	for _, e := range envelopes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Local().Format(time.DateTime), domain.FormatFromWithEmail(e.From), e.Subject)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(envelopes) == *limit {
		fmt.Fprintf(a.out, "\nmore: tmail list -address %s -offset %d\n", *address, *offset+len(envelopes))
	}
	return nil
}

// show 显示邮件正文和附件列表
func (a *app) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	id := fs.Int64("id", 0, "邮件 ID")
	asHTML := fs.Bool("html", false, "输出清理后的 HTML 文档而不是纯文本")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: -id", errMissingFlag)
	}

	detail, err := a.api.FetchDetail(ctx, *id)
	if err != nil {
		return err
	}

	if *asHTML {
		fmt.Fprintln(a.out, render.Document(detail.Content))
		return nil
	}

	names := make([]string, 0, len(detail.Attachments))
	for _, att := range detail.Attachments {
		names = append(names, att.Filename)
	}
	warnings := security.NewContentFilter().Inspect("", detail.Content)
	warnings = append(warnings, security.NewAttachmentSecurity().InspectAttachments(names)...)
	for _, w := range warnings {
		fmt.Fprintf(a.out, "! %s: %s\n", w.Code, w.Detail)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(a.out)
	}

	fmt.Fprintln(a.out, render.ToText(detail.Content))

	if detail.HasAttachments() {
		fmt.Fprintln(a.out, "\nAttachments:")
		for _, att := range detail.Attachments {
			fmt.Fprintf(a.out, "  %s  %s\n", att.ID, att.Filename)
		}
	}
	return nil
}

// download 下载邮件的所有附件
func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	id := fs.Int64("id", 0, "邮件 ID")
	dir := fs.String("dir", a.cfg.Download.Dir, "保存目录")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return fmt.Errorf("%w: -id", errMissingFlag)
	}

	detail, err := a.api.FetchDetail(ctx, *id)
	if err != nil {
		return err
	}

	d := download.New(a.api, *dir, a.cfg.Download.Workers, a.log)
	results, err := d.DownloadAll(ctx, detail.Attachments)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			fmt.Fprintf(a.out, "failed  %s  %v\n", res.Attachment.ID, res.Err)
			continue
		}
		fmt.Fprintf(a.out, "saved   %s  (%d bytes)\n", res.Path, res.Size)
		for _, w := range res.Warnings {
			fmt.Fprintf(a.out, "        ! %s\n", w.Detail)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d attachments failed", failed, len(results))
	}
	return nil
}
