// Package charset guesses the character encoding of input files and produces
// decoding readers for the guessed (or declared) encoding.
package charset

import (
	"fmt"
	"io"
	"strings"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"opto-import/internal/logging"
)

// Fallback is returned whenever detection cannot reach the confidence
// threshold.
const Fallback = "utf-8"

// minConfidence is the detector confidence (percent) a guess must exceed,
// strictly, to be trusted over the fallback.
const minConfidence = 66

func trusted(confidence int) bool {
	return confidence > minConfidence
}

// sampleChunkSize is how many bytes are fed to the detector per read.
const sampleChunkSize = 4 * 1024

// maxSampleSize bounds the total number of bytes sampled from the input.
const maxSampleSize = 64 * 1024

// DetectError wraps any I/O failure that occurs while sampling the input.
type DetectError struct {
	Err error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("charset detection failed: %v", e.Err)
}

func (e *DetectError) Unwrap() error { return e.Err }

// Detect samples r incrementally and returns the best-guess encoding name.
// It stops early once a guess reaches the confidence threshold, and returns
// the fallback encoding when no guess does. Reading never consumes more than
// maxSampleSize bytes. The only error returned is a *DetectError wrapping an
// I/O failure.
func Detect(r io.Reader) (string, error) {
	detector := chardet.NewTextDetector()
	sample := make([]byte, 0, sampleChunkSize)
	chunk := make([]byte, sampleChunkSize)

	for len(sample) < maxSampleSize {
		n, err := r.Read(chunk)
		if n > 0 {
			sample = append(sample, chunk[:n]...)
			if name, ok := bestGuess(detector, sample); ok {
				logging.Logf(logging.Debug, "Charset detected as '%s' after %d bytes", name, len(sample))
				return name, nil
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", &DetectError{Err: err}
		}
	}

	if name, ok := bestGuess(detector, sample); ok {
		logging.Logf(logging.Debug, "Charset detected as '%s' from full %d byte sample", name, len(sample))
		return name, nil
	}
	logging.Logf(logging.Debug, "Charset detection inconclusive after %d bytes, falling back to '%s'", len(sample), Fallback)
	return Fallback, nil
}

// DetectBytes is Detect over an in-memory sample.
func DetectBytes(sample []byte) string {
	name, ok := bestGuess(chardet.NewTextDetector(), sample)
	if !ok {
		return Fallback
	}
	return name
}

func bestGuess(detector *chardet.Detector, sample []byte) (string, bool) {
	if len(sample) == 0 {
		return "", false
	}
	result, err := detector.DetectBest(sample)
	if err != nil || result == nil {
		return "", false
	}
	if !trusted(result.Confidence) {
		return "", false
	}
	return strings.ToLower(result.Charset), true
}

// NewReader wraps r so that its bytes are decoded from the named encoding
// into UTF-8. Undecodable bytes are replaced with U+FFFD rather than failing
// the whole stream. An unknown encoding name is an error.
func NewReader(r io.Reader, encodingName string) (io.Reader, error) {
	name := strings.TrimSpace(strings.ToLower(encodingName))
	if name == "" {
		name = Fallback
	}
	if name == "utf-8" || name == "utf8" {
		// Re-encode through the UTF-8 codec so invalid sequences are
		// replaced instead of passed through verbatim.
		return transform.NewReader(r, unicode.UTF8.NewDecoder()), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown encoding '%s': %w", encodingName, err)
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}
