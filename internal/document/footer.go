package document

import (
	"fmt"
	"html"
	"time"
)

// Attestation is the visible record of who signed, when and from where.
type Attestation struct {
	SignerName string
	SignedAt   time.Time
	OriginIP   string
}

const bodyClose = "</body>"

// AppendSignatureFooter returns markup with the attestation block inserted before the
// last closing body tag, or appended when there is none. markup itself is not modified.
func AppendSignatureFooter(markup string, att Attestation) string {
	ip := att.OriginIP
	if ip == "" {
		ip = "-"
	}
	footer := fmt.Sprintf(`
<hr/>
<div class="signature-attestation" style="font-size:12px;color:#444;margin-top:16px;">
  <strong>Electronically signed by:</strong> %s<br/>
  <strong>Date (UTC):</strong> %s<br/>
  <strong>IP:</strong> %s<br/>
</div>
`,
		html.EscapeString(att.SignerName),
		att.SignedAt.UTC().Format("2006-01-02 15:04:05"),
		html.EscapeString(ip),
	)

	if at := lastIndexFold(markup, bodyClose); at >= 0 {
		return markup[:at] + footer + markup[at:]
	}
	return markup + footer
}

// lastIndexFold is strings.LastIndex with ASCII case folding. Byte offsets are those of s.
func lastIndexFold(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if equalFoldASCII(s[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func equalFoldASCII(a, b string) bool {
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
