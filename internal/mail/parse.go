package mail

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/gabibdods/NullVelope/internal/mail/models"
	"github.com/pkg/errors"
)

// DefaultMaxInlineAttachmentBytes is the largest attachment whose content is
// kept alongside its metadata.
const DefaultMaxInlineAttachmentBytes = 256 * 1024

// Nesting deeper than this is not walked any further.
const maxPartDepth = 32

var ErrMalformedMessage = errors.New("malformed message")

type Options struct {
	MaxInlineAttachmentBytes int64
}

func (o Options) inlineLimit() int64 {
	if o.MaxInlineAttachmentBytes <= 0 {
		return DefaultMaxInlineAttachmentBytes
	}
	return o.MaxInlineAttachmentBytes
}

// Every leaf part ends up as exactly one of these.
type partKind int

const (
	partIgnored partKind = iota
	partText
	partHTML
	partAttachment
)

func (k partKind) String() string {
	switch k {
	case partText:
		return "text"
	case partHTML:
		return "html"
	case partAttachment:
		return "attachment"
	default:
		return "ignored"
	}
}

// How do we decompose a message?
//
//  1. The top level header gives us the subject, sender, all the headers and
//     every To and Cc token.
//  2. If the body is not multipart, or claims to be but names no boundary,
//     it is either the html body (text/html) or the text body (anything
//     else).
//  3. Otherwise, we walk the part tree depth first and classify every leaf.
//  4. A leaf with an attachment disposition is an attachment.
//  5. An inline text/plain leaf is appended to the text body, an inline
//     text/html leaf to the html body. Everything else is ignored.
//
// A part that fails to decode is skipped, the rest of the message is still
// decomposed. Only a header block that cannot be read at all is an error.
func Decompose(r io.Reader, opts Options) (*models.Mail, error) {
	entity, err := message.Read(r)
	if err != nil {
		if entity == nil || !isRecoverable(err) {
			return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
		}
		slog.Warn("top level part has an unknown encoding", "err", err)
	}

	header := entity.Header
	mail := &models.Mail{
		Subject: decodeHeader(header.Get("Subject")),
		From:    decodeHeader(header.Get("From")),
		To:      recipientTokens(header),
		Headers: headerMap(header),
	}

	b := &builder{opts: opts}
	if mediaType := mediaTypeOf(header); !strings.HasPrefix(mediaType, "multipart/") || !hasBoundary(header) {
		if mediaType == "text/html" {
			b.visit(partHTML, entity)
		} else {
			b.visit(partText, entity)
		}
	} else {
		b.walk(entity, 0)
	}

	mail.Text = b.text.String()
	mail.HTML = b.html.String()
	mail.Attachments = b.attachments
	return mail, nil
}

// Accumulates the visited parts in traversal order.
type builder struct {
	opts        Options
	text        strings.Builder
	html        strings.Builder
	attachments []models.Attachment
}

func (b *builder) walk(entity *message.Entity, depth int) {
	parts := entity.MultipartReader()
	if parts == nil {
		b.visit(classify(entity.Header), entity)
		return
	}

	if depth >= maxPartDepth {
		slog.Warn("multipart nesting too deep, ignoring the rest", "depth", depth)
		return
	}

	for {
		part, err := parts.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil && (part == nil || !isRecoverable(err)) {
			// The boundary structure is broken from here on, keep what
			// we have collected so far.
			slog.Warn("could not read the next part", "depth", depth, "err", err)
			return
		}
		if err != nil {
			slog.Warn("part has an unknown encoding, reading it raw", "err", err)
		}

		b.walk(part, depth+1)
	}
}

func (b *builder) visit(kind partKind, part *message.Entity) {
	slog.Debug("found a part", "kind", kind, "type", mediaTypeOf(part.Header))

	switch kind {
	case partText:
		b.text.WriteString(readText(part))

	case partHTML:
		b.html.WriteString(readText(part))

	case partAttachment:
		if attachment, ok := b.readAttachment(part); ok {
			b.attachments = append(b.attachments, attachment)
		}

	default:
		slog.Debug("ignoring an unrecognized inline part")
	}
}

// Reads a decoded text body. Bytes that are not valid UTF-8 after the
// charset conversion are replaced, and a read failure keeps whatever was
// read before it.
func readText(part *message.Entity) string {
	value, err := io.ReadAll(part.Body)
	if err != nil {
		slog.Warn("could not read text part", "type", mediaTypeOf(part.Header), "err", err)
	}
	return strings.ToValidUTF8(string(value), "\uFFFD")
}

// Reads an attachment while holding at most the inline limit in memory.
// Anything past the limit is only counted.
func (b *builder) readAttachment(part *message.Entity) (models.Attachment, bool) {
	limit := b.opts.inlineLimit()
	contentType := mediaTypeOf(part.Header)

	var buffer bytes.Buffer
	size, err := io.Copy(&buffer, io.LimitReader(part.Body, limit+1))
	if err == nil && size > limit {
		buffer = bytes.Buffer{}
		var rest int64
		rest, err = io.Copy(io.Discard, part.Body)
		size += rest
	}
	if err != nil {
		slog.Warn("could not decode attachment, skipping", "type", contentType, "err", err)
		return models.Attachment{}, false
	}

	attachment := models.Attachment{
		Filename:    filenameOf(part.Header),
		ContentType: contentType,
		Size:        size,
	}
	if size <= limit {
		encoded := base64.StdEncoding.EncodeToString(buffer.Bytes())
		attachment.ContentB64 = &encoded
	}

	return attachment, true
}

func classify(header message.Header) partKind {
	// A malformed disposition is treated as a missing one.
	if disposition, _, err := header.ContentDisposition(); err == nil {
		if strings.EqualFold(disposition, "attachment") {
			return partAttachment
		}
	}

	switch mediaTypeOf(header) {
	case "text/plain":
		return partText
	case "text/html":
		return partHTML
	default:
		return partIgnored
	}
}

// Returns the lower cased media type of a part. Parts without a content
// type are plain text.
func mediaTypeOf(header message.Header) string {
	raw := header.Get("Content-Type")
	if strings.TrimSpace(raw) == "" {
		return "text/plain"
	}

	mediaType, _, err := header.ContentType()
	if err != nil {
		mediaType, _, _ = strings.Cut(raw, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// A multipart body can only be split when the header names its boundary.
func hasBoundary(header message.Header) bool {
	_, params, err := header.ContentType()
	return err == nil && params["boundary"] != ""
}

func filenameOf(header message.Header) *string {
	if _, params, err := header.ContentDisposition(); err == nil {
		if name := params["filename"]; name != "" {
			return &name
		}
	}
	if _, params, err := header.ContentType(); err == nil {
		if name := params["name"]; name != "" {
			return &name
		}
	}
	return nil
}

// Splits every To and Cc header instance on commas.
func recipientTokens(header message.Header) []string {
	tokens := []string{}
	for _, key := range []string{"To", "Cc"} {
		for _, value := range header.Values(key) {
			for _, token := range strings.Split(decodeHeader(value), ",") {
				if token = strings.TrimSpace(token); token != "" {
					tokens = append(tokens, token)
				}
			}
		}
	}
	return tokens
}

// Collects the headers, a repeated header keeps its last value.
func headerMap(header message.Header) map[string]string {
	headers := map[string]string{}
	fields := header.Fields()
	for fields.Next() {
		headers[fields.Key()] = decodeHeader(fields.Value())
	}
	return headers
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Decodes RFC 2047 encoded words, falling back to the raw value.
func decodeHeader(value string) string {
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		slog.Debug("could not decode header value", "err", err)
		return strings.ToValidUTF8(value, "\uFFFD")
	}
	return strings.ToValidUTF8(decoded, "\uFFFD")
}

func isRecoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
