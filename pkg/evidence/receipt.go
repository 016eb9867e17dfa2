package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"
)

// Candidate amount patterns: currency-marked ("Rs. 99", "INR 1,499", "₹99"),
// grouped numbers ("1,499.00"), or keyword-adjacent totals.
var (
	currencyRE = regexp.MustCompile(`(?i)(?:rs\.?|inr|₹)\s*([0-9]{1,3}(?:[.,][0-9]{3})*(?:[.,][0-9]{2})?|[0-9]{2,9})`)
	groupedRE  = regexp.MustCompile(`[0-9]{1,3}(?:,[0-9]{3})+(?:\.[0-9]{2})?`)
	centsRE    = regexp.MustCompile(`[.,][0-9]{2}$`)
)

// ReadAmount runs OCR over a receipt image and returns the most plausible
// transfer amount in whole currency units. The result only pre-fills the
// claimed amount on a manual submission; an operator reviews it either way.
func ReadAmount(path string) (int64, error) {
	tmp, err := preprocess(path)
	if err != nil {
		return 0, fmt.Errorf("preprocess: %w", err)
	}
	defer os.Remove(tmp)

	client := gosseract.NewClient()
	defer client.Close()
	if err := client.SetImage(tmp); err != nil {
		return 0, fmt.Errorf("set image: %w", err)
	}
	text, err := client.Text()
	if err != nil {
		return 0, fmt.Errorf("tesseract: %w", err)
	}
	return AmountFromText(text)
}

// AmountFromText extracts the best amount candidate from OCR output. Split out
// from ReadAmount so parsing is testable without Tesseract installed.
func AmountFromText(text string) (int64, error) {
	text = normalize(text)
	var candidates []string
	for _, m := range currencyRE.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[0])
	}
	candidates = append(candidates, groupedRE.FindAllString(text, -1)...)

	var best int64
	for _, c := range candidates {
		if !plausibleAmount(c) {
			continue
		}
		amt, err := parseAmount(c)
		if err != nil {
			continue
		}
		if amt > best {
			best = amt
		}
	}
	if best == 0 {
		return 0, ErrNoAmount
	}
	return best, nil
}

// preprocess renders a grayscale, upscaled copy for Tesseract and returns the
// temp file path. Small screenshots OCR poorly at native resolution.
func preprocess(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", err
	}
	img = imaging.Grayscale(img)
	if img.Bounds().Dx() < 1000 {
		img = imaging.Resize(img, img.Bounds().Dx()*2, 0, imaging.Lanczos)
	}
	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("receipt-%d.png", os.Getpid()))
	if err := imaging.Save(img, tmp); err != nil {
		return "", err
	}
	return tmp, nil
}

// parseAmount normalizes a matched substring into whole currency units,
// dropping a trailing two-digit decimal part ("1,499.00" -> 1499).
func parseAmount(found string) (int64, error) {
	found = strings.TrimSpace(found)
	if centsRE.MatchString(found) {
		found = found[:len(found)-3]
	}
	digits := onlyDigits(found)
	if digits == "" {
		return 0, fmt.Errorf("no digits in %q", found)
	}
	return strconv.ParseInt(digits, 10, 64)
}

// plausibleAmount filters out phone numbers, transaction ids and reference
// numbers masquerading as amounts: currency hints or grouping separators win,
// long plain digit runs and leading zeros lose.
func plausibleAmount(s string) bool {
	s = strings.TrimSpace(s)
	low := strings.ToLower(s)
	if strings.Contains(low, "rs") || strings.Contains(low, "inr") || strings.Contains(low, "₹") {
		return true
	}
	if strings.ContainsAny(s, ".,") {
		d := onlyDigits(s)
		return len(d) >= 3 && d[0] != '0'
	}
	d := onlyDigits(s)
	if d == "" || d[0] == '0' {
		return false
	}
	return len(d) >= 2 && len(d) <= 6
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// normalize collapses whitespace so regexes see one line.
func normalize(t string) string {
	t = strings.ReplaceAll(t, "\n", " ")
	t = strings.ReplaceAll(t, "\t", " ")
	return strings.Join(strings.Fields(t), " ")
}
