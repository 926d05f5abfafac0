package daemon

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	magnetHashRe = regexp.MustCompile(`btih:([a-fA-F0-9]{40})`)
	urlHashRe    = regexp.MustCompile(`([a-fA-F0-9]{40})$`)
)

// trackers announced alongside constructed magnet links. Mirrors the list
// published by the index next to its torrent files.
var trackers = []string{
	"udp://open.demonii.com:1337/announce",
	"udp://tracker.openbittorrent.com:80",
	"udp://tracker.coppersurfer.tk:6969",
	"udp://glotorrents.pw:6969/announce",
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://torrent.gresille.org:80/announce",
	"udp://p4p.arenabg.com:1337",
	"udp://tracker.leechers-paradise.org:6969",
}

// ExtractHash pulls the info hash out of a magnet URI or a torrent file URL
// that ends in the hex hash. Returns the lowercased hash, or "" when neither
// form matches.
func ExtractHash(source string) string {
	if strings.HasPrefix(source, "magnet:") {
		if m := magnetHashRe.FindStringSubmatch(source); m != nil {
			return strings.ToLower(m[1])
		}

		return ""
	}

	if m := urlHashRe.FindStringSubmatch(source); m != nil {
		return strings.ToLower(m[1])
	}

	return ""
}

// BuildMagnet constructs a magnet URI from an info hash and display name.
func BuildMagnet(hash, name string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "magnet:?xt=urn:btih:%s&dn=%s", strings.ToLower(hash), url.QueryEscape(name))

	for _, tr := range trackers {
		fmt.Fprintf(&sb, "&tr=%s", url.QueryEscape(tr))
	}

	return sb.String()
}
