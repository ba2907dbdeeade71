package mail

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(lines ...string) *strings.Reader {
	return strings.NewReader(strings.Join(lines, "\r\n"))
}

func TestDecomposePlainText(t *testing.T) {
	mail, err := Decompose(raw(
		"From: Sender <sender@example.com>",
		"To: abc123@served.domain",
		"Subject: Hello there",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hello, this is a plain text email.",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "Hello there", mail.Subject)
	assert.Equal(t, "Sender <sender@example.com>", mail.From)
	assert.Equal(t, []string{"abc123@served.domain"}, mail.To)
	assert.Equal(t, "Hello, this is a plain text email.", mail.Text)
	assert.Empty(t, mail.HTML)
	assert.Empty(t, mail.Attachments)
}

func TestDecomposeWithoutContentType(t *testing.T) {
	mail, err := Decompose(raw(
		"From: sender@example.com",
		"Subject: bare",
		"",
		"just a body",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "just a body", mail.Text)
	assert.Empty(t, mail.HTML)
}

func TestDecomposeSingleHTMLPart(t *testing.T) {
	mail, err := Decompose(raw(
		"From: sender@example.com",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hi</p>",
	), Options{})
	require.NoError(t, err)

	assert.Empty(t, mail.Text)
	assert.Equal(t, "<p>hi</p>", mail.HTML)
}

func TestDecomposeTextAndHTML(t *testing.T) {
	mail, err := Decompose(raw(
		"From: sender@example.com",
		"To: alice@served.domain, bob@example.com",
		"Cc: carol@served.domain",
		"Subject: Multipart",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=b1",
		"",
		"--b1",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<b>html body</b>",
		"--b1--",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "plain body", mail.Text)
	assert.Equal(t, "<b>html body</b>", mail.HTML)
	assert.Empty(t, mail.Attachments)
	assert.Equal(t, []string{"alice@served.domain", "bob@example.com", "carol@served.domain"}, mail.To)
}

func TestDecomposeNestedPartsKeepDocumentOrder(t *testing.T) {
	mail, err := Decompose(raw(
		"From: sender@example.com",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: text/plain",
		"",
		"one",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"two",
		"--inner",
		"Content-Type: text/html",
		"",
		"<i>a</i>",
		"--inner--",
		"--outer",
		"Content-Type: image/png",
		"Content-Transfer-Encoding: base64",
		"",
		"iVBORw0KGgo=",
		"--outer",
		"Content-Type: text/plain",
		"",
		"three",
		"--outer",
		"Content-Type: text/html",
		"",
		"<i>b</i>",
		"--outer--",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "onetwothree", mail.Text)
	assert.Equal(t, "<i>a</i><i>b</i>", mail.HTML)
	// Inline parts of other types are not attachments.
	assert.Empty(t, mail.Attachments)
}

func TestDecomposeAttachments(t *testing.T) {
	small := []byte("small attachment content")
	large := bytes.Repeat([]byte{0xAB}, DefaultMaxInlineAttachmentBytes+1)

	mail, err := Decompose(raw(
		"From: sender@example.com",
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--b",
		"Content-Type: text/plain",
		`Content-Disposition: attachment; filename="notes.txt"`,
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString(small),
		"--b",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment",
		"Content-Transfer-Encoding: base64",
		"",
		base64.StdEncoding.EncodeToString(large),
		"--b--",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "see attached", mail.Text)
	require.Len(t, mail.Attachments, 2)

	first := mail.Attachments[0]
	require.NotNil(t, first.Filename)
	assert.Equal(t, "notes.txt", *first.Filename)
	assert.Equal(t, "text/plain", first.ContentType)
	assert.Equal(t, int64(len(small)), first.Size)
	require.NotNil(t, first.ContentB64)
	assert.Equal(t, base64.StdEncoding.EncodeToString(small), *first.ContentB64)

	second := mail.Attachments[1]
	assert.Nil(t, second.Filename)
	assert.Equal(t, "application/octet-stream", second.ContentType)
	assert.Equal(t, int64(len(large)), second.Size)
	assert.Nil(t, second.ContentB64)
}

func TestDecomposeAttachmentAtTheLimitKeepsContent(t *testing.T) {
	content := bytes.Repeat([]byte("x"), 64)

	mail, err := Decompose(raw(
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="a.pdf"`,
		"",
		string(content),
		"--b--",
	), Options{MaxInlineAttachmentBytes: 64})
	require.NoError(t, err)

	require.Len(t, mail.Attachments, 1)
	assert.Equal(t, int64(64), mail.Attachments[0].Size)
	assert.NotNil(t, mail.Attachments[0].ContentB64)
}

func TestDecomposeBrokenAttachmentIsSkipped(t *testing.T) {
	mail, err := Decompose(raw(
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"Content-Transfer-Encoding: base64",
		"",
		"!!!! not base64 !!!!",
		"--b",
		"Content-Type: text/plain",
		"",
		"still here",
		"--b--",
	), Options{})
	require.NoError(t, err)

	assert.Empty(t, mail.Attachments)
	assert.Equal(t, "still here", mail.Text)
}

func TestDecomposeCharsets(t *testing.T) {
	mail, err := Decompose(raw(
		"Subject: =?ISO-8859-1?Q?Caf=E9?=",
		"Content-Type: multipart/alternative; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Caf=E9",
		"--b",
		"Content-Type: text/html; charset=utf-8",
		"",
		"bad \xff byte",
		"--b--",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "Café", mail.Subject)
	assert.Equal(t, "Café", mail.Text)
	assert.Equal(t, "bad � byte", mail.HTML)
}

func TestDecomposeMalformedDispositionIsInline(t *testing.T) {
	mail, err := Decompose(raw(
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"Content-Disposition: ;;;",
		"",
		"inline after all",
		"--b--",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "inline after all", mail.Text)
	assert.Empty(t, mail.Attachments)
}

func TestDecomposeHeaders(t *testing.T) {
	mail, err := Decompose(raw(
		"X-Trace: first",
		"X-Trace: second",
		"To: a@served.domain, b@served.domain",
		"To: c@served.domain",
		"Subject: headers",
		"",
		"body",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "headers", mail.Headers["Subject"])
	assert.Contains(t, []string{"first", "second"}, mail.Headers["X-Trace"])
	assert.ElementsMatch(t, []string{"a@served.domain", "b@served.domain", "c@served.domain"}, mail.To)
}

func TestDecomposeMalformedHeader(t *testing.T) {
	_, err := Decompose(raw(
		"this is not a header line",
		"",
		"body",
	), Options{})
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecomposeKeepsTheReadError(t *testing.T) {
	cause := errors.New("connection reset")
	_, err := Decompose(io.MultiReader(strings.NewReader("Subject: cut\r\nX-Long: "), iotest.ErrReader(cause)), Options{})
	assert.ErrorIs(t, err, ErrMalformedMessage)
	assert.ErrorIs(t, err, cause)
}

func TestDecomposeMultipartWithoutBoundary(t *testing.T) {
	mail, err := Decompose(raw(
		"From: sender@example.com",
		"Content-Type: multipart/mixed",
		"",
		"the body is still here",
	), Options{})
	require.NoError(t, err)

	assert.Equal(t, "the body is still here", mail.Text)
	assert.Empty(t, mail.HTML)
	assert.Empty(t, mail.Attachments)
}
