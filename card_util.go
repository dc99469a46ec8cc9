package cardworker

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
)

const (
	FileTypePDF     = "PDF"
	FileTypePNG     = "PNG"
	FileTypeJPEG    = "JPEG"
	FileTypeUnknown = "UNKNOWN"
)

func saveBytesToFileName(bytes []byte, tmpFileName string) error {
	return os.WriteFile(tmpFileName, bytes, 0600)
}

func url2bytes(url string) ([]byte, error) {

	var client = &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	return io.ReadAll(resp.Body)
}

// createTempFileName generating a file name within of a temp directory. If function argument ist empty string
// file name will be generated in ksuid format.
func createTempFileName(fileName string) (string, error) {
	tempDir := os.TempDir()

	if fileName == "" {
		ksuidRaw := ksuid.New()
		fileName = ksuidRaw.String()
	}

	return filepath.Join(tempDir, fileName), nil
}

func removeTempFile(name string) {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("component", "CARD_UTIL").Msg(name + " could not be removed")
	}
}

// detectFileType sniffs the leading magic bytes of an upload.
func detectFileType(buffer []byte) string {
	switch {
	case len(buffer) > 3 &&
		buffer[0] == 0x25 && buffer[1] == 0x50 && buffer[2] == 0x44 && buffer[3] == 0x46:
		return FileTypePDF
	case len(buffer) > 7 &&
		buffer[0] == 0x89 && buffer[1] == 0x50 && buffer[2] == 0x4E && buffer[3] == 0x47:
		return FileTypePNG
	case len(buffer) > 2 &&
		buffer[0] == 0xFF && buffer[1] == 0xD8 && buffer[2] == 0xFF:
		return FileTypeJPEG
	}
	return FileTypeUnknown
}

// runExternalCmd runs a helper binary and returns its combined output.
func runExternalCmd(ctx context.Context, commandToRun string, cmdArgs []string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().Str("component", "CARD_UTIL").
		Str("command", commandToRun).
		Strs("cmdArgs", cmdArgs).
		Msg("running external command")

	cmd := exec.CommandContext(ctx, commandToRun, cmdArgs...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		if err == nil {
			err = ctx.Err()
		}
		err = errors.Wrap(err, "command timed out")
	}
	return string(output), err
}

// checkAbsoluteURL Checks if provided string is a valid absolute URL
func checkAbsoluteURL(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.Errorf("provided %s URI must be an absolute URL", u.String())
	}
	return u.String(), nil
}

// timeTrack used to measure time of selected operations
func timeTrack(start time.Time, operation string, message string, requestID string) {
	elapsed := time.Since(start)
	if requestID == "" {
		log.Info().Str("component", "card_worker").Dur(operation, elapsed).Msg(message)
		return
	}
	log.Info().Str("component", "card_worker").Dur(operation, elapsed).
		Str("RequestID", requestID).Msg(message)
}

// StripPasswordFromUrl strips passwords from URL
func StripPasswordFromUrl(urlToLog *url.URL) string {

	pass, passSet := urlToLog.User.Password()

	if passSet {
		return strings.Replace(urlToLog.String(), pass+"@", "***@", 1)
	}
	return urlToLog.String()
}

// stripAmqpPassword masks the password of a broker URI for logging.
func stripAmqpPassword(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "<unparsable uri>"
	}
	return StripPasswordFromUrl(u)
}
