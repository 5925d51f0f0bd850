package feed

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"moonlight/internal/domain"
)

const (
	xmlHeader     = "<?xml version='1.0' encoding='utf-8'?>\n"
	rssVersion    = "2.0"
	indentUnit    = "    "
	configHashTag = "configHash"
)

// Render writes the RSS document for model. The output depends only on the
// model and namespace, so identical models produce identical bytes.
func Render(w io.Writer, model *domain.FeedModel, ns domain.Namespace) error {
	var buf bytes.Buffer
	r := renderer{buf: &buf}

	buf.WriteString(xmlHeader)
	buf.WriteString(`<rss version="` + rssVersion + `" xmlns:` + ns.Prefix + `="`)
	r.escape(ns.URL)
	buf.WriteString("\">\n")

	r.open(1, "channel")
	r.element(2, "title", model.Repo)
	r.element(2, "link", model.Link)
	r.element(2, "description", model.Description)
	r.element(2, "pubDate", FormatDate(model.GeneratedAt))
	r.element(2, ns.Prefix+":"+configHashTag, model.ConfigHash)

	for _, item := range model.Items {
		r.open(2, "item")
		r.element(3, "title", item.Title)
		r.element(3, "link", item.Link)
		r.element(3, "description", item.Description)
		r.element(3, "pubDate", item.PubDate)
		r.element(3, "category", string(item.Category))
		r.element(3, "guid", item.GUID)
		r.close(2, "item")
	}

	r.close(1, "channel")
	buf.WriteString("</rss>\n")

	if r.err != nil {
		return fmt.Errorf("escape text: %w", r.err)
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write document: %w", err)
	}

	return nil
}

type renderer struct {
	buf *bytes.Buffer
	err error
}

func (r *renderer) open(level int, tag string) {
	r.buf.WriteString(strings.Repeat(indentUnit, level) + "<" + tag + ">\n")
}

func (r *renderer) close(level int, tag string) {
	r.buf.WriteString(strings.Repeat(indentUnit, level) + "</" + tag + ">\n")
}

func (r *renderer) element(level int, tag string, text string) {
	r.buf.WriteString(strings.Repeat(indentUnit, level) + "<" + tag + ">")
	r.escape(text)
	r.buf.WriteString("</" + tag + ">\n")
}

func (r *renderer) escape(text string) {
	if r.err != nil {
		return
	}

	r.err = xml.EscapeText(r.buf, []byte(text))
}
