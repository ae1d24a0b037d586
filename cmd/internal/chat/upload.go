package chat

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// MaxAttachmentBytes is the largest file an UploadSession accepts (50 MiB).
const MaxAttachmentBytes int64 = 50 << 20

// UploadState is the state of an UploadSession.
type UploadState uint8

const (
	UploadIdle UploadState = iota
	UploadSelected
	UploadUploading
	UploadFailed
	UploadCommitted
)

func (s UploadState) String() string {
	switch s {
	case UploadIdle:
		return "idle"
	case UploadSelected:
		return "selected"
	case UploadUploading:
		return "uploading"
	case UploadFailed:
		return "failed"
	case UploadCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// UploadSession drives one attachment from file pick to acknowledged message.
//
//	Idle -> Selected -> Uploading -> Committed -> Idle
//	                         \-> Failed -> Uploading (retry) | Idle (RemoveFile)
//
// A Failed session keeps the file, caption and client message id, so a retry
// is deduplicated by the server if the first send actually landed.
type UploadSession struct {
	uploader Uploader
	sender   Sender
	o        options

	mu          sync.Mutex
	state       UploadState
	file        File
	mime        string
	msgType     MessageType
	caption     string
	clientMsgID string
	progress    int
}

// NewUploadSession constructs an Idle session.
func NewUploadSession(uploader Uploader, sender Sender, opts ...Option) *UploadSession {
	return &UploadSession{
		uploader: uploader,
		sender:   sender,
		o:        buildOptions(opts),
	}
}

// Select picks f. Files larger than MaxAttachmentBytes are rejected before any
// read and the session stays Idle.
func (s *UploadSession) Select(f File) error {
	if f == nil {
		return invalid("file", "required")
	}
	size := f.Size()
	if size > MaxAttachmentBytes {
		s.o.log.Info("upload.select.rejected", "file", f.Name(), "size", size)
		return &ValidationError{
			Field: "file",
			Msg:   fmt.Sprintf("%s exceeds the %s limit", humanize.IBytes(uint64(size)), humanize.IBytes(uint64(MaxAttachmentBytes))),
			Kind:  ErrAttachmentTooLarge,
		}
	}
	if size <= 0 {
		return invalid("file", "empty")
	}

	s.mu.Lock()
	if s.state != UploadIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: select in %s", ErrInvalidTransition, state)
	}
	s.mu.Unlock()

	mt, err := sniff(f)
	if err != nil {
		return fmt.Errorf("sniff %s: %w", f.Name(), err)
	}

	s.mu.Lock()
	if s.state != UploadIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: select in %s", ErrInvalidTransition, s.state)
	}
	s.file = f
	s.mime = mt
	s.msgType = messageTypeFor(mt)
	s.caption = ""
	s.clientMsgID = ""
	s.progress = 0
	s.state = UploadSelected
	s.mu.Unlock()

	s.o.log.Debug("upload.selected", "file", f.Name(), "size", size, "mime", mt)
	s.notify(UploadSelected)
	return nil
}

// SetCaption sets the text sent along with the attachment.
func (s *UploadSession) SetCaption(caption string) error {
	caption = strings.TrimSpace(norm.NFC.String(caption))
	if utf8.RuneCountInString(caption) > maxMessageChars {
		return invalid("caption", "too long")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != UploadSelected && s.state != UploadFailed {
		return fmt.Errorf("%w: caption in %s", ErrInvalidTransition, s.state)
	}
	s.caption = caption
	return nil
}

// Commit uploads the selected file and sends it as a message to
// conversationID. On success the session is back to Idle and the message has
// been appended to the feed by the Sender.
func (s *UploadSession) Commit(ctx context.Context, conversationID, repliedToID string) (Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Message{}, invalid("conversation_id", "required")
	}

	s.mu.Lock()
	if s.state != UploadSelected && s.state != UploadFailed {
		state := s.state
		s.mu.Unlock()
		return Message{}, fmt.Errorf("%w: commit in %s", ErrInvalidTransition, state)
	}
	if s.clientMsgID == "" {
		s.clientMsgID = uuid.NewString()
	}
	f, mt, typ, caption, clientMsgID := s.file, s.mime, s.msgType, s.caption, s.clientMsgID
	s.progress = 0
	s.state = UploadUploading
	s.mu.Unlock()
	s.notify(UploadUploading)

	att, err := s.uploader.Upload(ctx, f, s.track)
	if err != nil {
		s.fail(f, err)
		return Message{}, &OpError{Op: OpUploadAttachment, Target: f.Name(), Err: err}
	}
	if att.Filename == "" {
		att.Filename = f.Name()
	}
	if att.Size == 0 {
		att.Size = f.Size()
	}
	if att.MimeType == "" {
		att.MimeType = mt
	}

	s.mu.Lock()
	s.progress = 100
	s.mu.Unlock()

	msg, err := s.sender.Send(ctx, conversationID, Draft{
		ClientMsgID: clientMsgID,
		Type:        typ,
		Content:     caption,
		Attachment:  &att,
		RepliedToID: strings.TrimSpace(repliedToID),
	})
	if err != nil {
		s.fail(f, err)
		return Message{}, err
	}

	s.mu.Lock()
	s.state = UploadCommitted
	s.mu.Unlock()
	s.notify(UploadCommitted)

	s.mu.Lock()
	s.reset()
	s.mu.Unlock()
	s.notify(UploadIdle)

	s.o.log.Info("upload.committed", "conversation_id", conversationID, "message_id", msg.ID, "file", att.Filename, "size", att.Size)
	return msg, nil
}

// RemoveFile discards the file and caption. Valid from Selected or Failed.
func (s *UploadSession) RemoveFile() error {
	s.mu.Lock()
	if s.state != UploadSelected && s.state != UploadFailed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: remove in %s", ErrInvalidTransition, state)
	}
	s.reset()
	s.mu.Unlock()

	s.notify(UploadIdle)
	return nil
}

// State returns the current state.
func (s *UploadSession) State() UploadState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress returns the upload progress in percent.
func (s *UploadSession) Progress() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

func (s *UploadSession) Caption() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caption
}

// File returns the selected file, or nil when Idle.
func (s *UploadSession) File() File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

func (s *UploadSession) track(sent, total int64) {
	if total <= 0 {
		return
	}
	pct := int(sent * 100 / total)
	if pct > 100 {
		pct = 100
	}

	s.mu.Lock()
	if s.state == UploadUploading && pct > s.progress {
		s.progress = pct
	}
	s.mu.Unlock()
}

func (s *UploadSession) fail(f File, err error) {
	s.mu.Lock()
	s.progress = 0
	s.state = UploadFailed
	s.mu.Unlock()

	s.o.log.Info("upload.fail", "file", f.Name(), "err", err)
	s.notify(UploadFailed)
}

// reset returns to a fresh Idle session. Caller holds mu.
func (s *UploadSession) reset() {
	s.state = UploadIdle
	s.file = nil
	s.mime = ""
	s.msgType = ""
	s.caption = ""
	s.clientMsgID = ""
	s.progress = 0
}

func (s *UploadSession) notify(st UploadState) {
	if s.o.onUpload != nil {
		s.o.onUpload(st)
	}
}

func sniff(f File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	m, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

func messageTypeFor(mime string) MessageType {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return MessageImage
	case strings.HasPrefix(mime, "video/"):
		return MessageVideo
	case strings.HasPrefix(mime, "audio/"):
		return MessageAudio
	default:
		return MessageFile
	}
}

type localFile struct {
	path string
	size int64
}

// OpenLocalFile returns a File backed by a path on disk.
func OpenLocalFile(path string) (File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, invalid("file", "is a directory")
	}
	return &localFile{path: path, size: fi.Size()}, nil
}

func (f *localFile) Name() string                 { return filepath.Base(f.path) }
func (f *localFile) Size() int64                  { return f.size }
func (f *localFile) Open() (io.ReadCloser, error) { return os.Open(f.path) }
