package content

import (
	"strconv"
	"strings"
)

// largestSrcsetCandidate picks the candidate with the highest width or
// density descriptor. Candidates without a descriptor count as 1x.
func largestSrcsetCandidate(value string) string {
	best := ""
	bestScore := -1.0
	for _, candidate := range parseSrcsetCandidates(value) {
		score := descriptorScore(candidate.descriptor)
		if score > bestScore {
			best = candidate.imageURL
			bestScore = score
		}
	}
	return best
}

func descriptorScore(descriptor string) float64 {
	d := strings.ToLower(strings.TrimSpace(descriptor))
	if d == "" {
		return 1
	}
	unit := d[len(d)-1]
	if unit != 'w' && unit != 'x' {
		return 0
	}
	n, err := strconv.ParseFloat(d[:len(d)-1], 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type srcsetCandidate struct {
	imageURL   string
	descriptor string
}

func parseSrcsetCandidates(value string) []srcsetCandidate {
	var candidates []srcsetCandidate
	i := 0
	for i < len(value) {
		for i < len(value) && (isASCIISpace(value[i]) || value[i] == ',') {
			i++
		}
		if i >= len(value) {
			break
		}

		urlStart := i
		for i < len(value) {
			if isASCIISpace(value[i]) {
				break
			}
			if value[i] == ',' {
				// Keep commas that are directly followed by non-space characters
				// as part of the URL. Many image CDNs encode transforms this way.
				j := i + 1
				for j < len(value) && isASCIISpace(value[j]) {
					j++
				}
				if j >= len(value) || j > i+1 {
					break
				}
			}
			i++
		}

		imageURL := strings.TrimSpace(value[urlStart:i])
		if imageURL == "" {
			i++
			continue
		}

		if i < len(value) && value[i] == ',' {
			candidates = append(candidates, srcsetCandidate{imageURL: imageURL})
			i++
			continue
		}

		descStart := i
		for i < len(value) && value[i] != ',' {
			i++
		}
		descriptor := strings.TrimSpace(value[descStart:i])
		candidates = append(candidates, srcsetCandidate{
			imageURL:   imageURL,
			descriptor: descriptor,
		})
		if i < len(value) && value[i] == ',' {
			i++
		}
	}
	return candidates
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\f' || b == '\r'
}
