package imap

import (
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"

	"github.com/achzod/achzodyt-bilans-coaching/internal/models"
)

// ParseHeader converts a header-only IMAP fetch result into a mirror message
// with no body. A message with an unparseable or missing date gets "now" so
// it still sorts near the top instead of disappearing from the window.
func ParseHeader(imapMsg *imap.Message, direction models.Direction) (*models.Message, error) {
	if imapMsg == nil || imapMsg.Envelope == nil {
		return nil, fmt.Errorf("%w: no envelope", ErrDecodeFailure)
	}

	env := imapMsg.Envelope
	if env.MessageId == "" {
		return nil, fmt.Errorf("%w: no Message-ID", ErrDecodeFailure)
	}

	sentAt := env.Date
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	msg := &models.Message{
		MessageID:      env.MessageId,
		Subject:        env.Subject,
		SentAt:         sentAt,
		Direction:      direction,
		BodyLoaded:     false,
		LifecycleState: models.StateNew,
	}

	if len(env.From) > 0 {
		msg.FromAddress = addressOf(env.From[0])
		msg.FromDisplayName = env.From[0].PersonalName
	}
	if len(env.To) > 0 {
		msg.ToAddress = addressOf(env.To[0])
	}

	return msg, nil
}

// DecodeBody parses a full raw message into its plain-text body and
// attachment list. Decoding problems in individual parts are skipped; only a
// message whose MIME structure cannot be read at all yields ErrDecodeFailure.
func DecodeBody(imapMsg *imap.Message) (string, []models.Attachment, error) {
	if imapMsg == nil {
		return "", nil, fmt.Errorf("%w: nil message", ErrDecodeFailure)
	}

	section := &imap.BodySectionName{Peek: true}
	bodyReader := imapMsg.GetBody(section)
	if bodyReader == nil {
		// Some servers answer the non-peek section name.
		bodyReader = imapMsg.GetBody(&imap.BodySectionName{})
	}
	if bodyReader == nil {
		return "", nil, fmt.Errorf("%w: no body section in fetch result", ErrDecodeFailure)
	}

	envelope, err := enmime.ReadEnvelope(bodyReader)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}

	for _, e := range envelope.Errors {
		log.Printf("Warning: MIME part problem: %v", e)
	}

	body := strings.TrimSpace(envelope.Text)
	if body == "" && envelope.HTML != "" {
		body = htmlToText(envelope.HTML)
	}

	return body, extractAttachments(envelope), nil
}

// extractAttachments captures every part with an attachment disposition plus
// any image part, inline or not: many mail clients embed client photos inline
// instead of attaching them. Parts with no decodable content are skipped.
func extractAttachments(envelope *enmime.Envelope) []models.Attachment {
	var attachments []models.Attachment

	collect := func(parts []*enmime.Part, imagesOnly bool) {
		for _, part := range parts {
			if imagesOnly && !models.IsImageContentType(part.ContentType) {
				continue
			}
			if len(part.Content) == 0 {
				continue
			}

			filename := part.FileName
			if filename == "" {
				filename = synthesizeFilename(part.ContentType, len(attachments))
			}

			attachments = append(attachments, models.Attachment{
				Filename:    filename,
				ContentType: part.ContentType,
				Payload:     part.Content,
				SizeBytes:   int64(len(part.Content)),
				IsImage:     models.IsImageContentType(part.ContentType),
			})
		}
	}

	collect(envelope.Attachments, false)
	collect(envelope.Inlines, true)
	collect(envelope.OtherParts, true)

	return attachments
}

// synthesizeFilename names an unnamed part from its content type, e.g.
// image_0.jpeg for the first anonymous image/jpeg part.
func synthesizeFilename(contentType string, index int) string {
	ext := "bin"
	if i := strings.LastIndex(contentType, "/"); i >= 0 && i < len(contentType)-1 {
		ext = contentType[i+1:]
	}
	return fmt.Sprintf("image_%d.%s", index, ext)
}

var (
	htmlBreakRe = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</tr>|</li>`)
	htmlTagRe   = regexp.MustCompile(`<[^>]*>`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
	spaceRunRe  = regexp.MustCompile(`[ \t]+`)
)

var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&nbsp;", " ",
)

// htmlToText is the fallback conversion when a message carries only an HTML
// part: block-closing tags become newlines, all remaining tags are stripped
// and the common entities are decoded.
func htmlToText(html string) string {
	text := htmlBreakRe.ReplaceAllString(html, "\n")
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = htmlEntities.Replace(text)
	text = spaceRunRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRunRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// addressOf renders an IMAP envelope address as a bare lowercase address.
func addressOf(address *imap.Address) string {
	if address == nil || (address.MailboxName == "" && address.HostName == "") {
		return ""
	}
	return strings.ToLower(address.MailboxName + "@" + address.HostName)
}
