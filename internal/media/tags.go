// Package media resolves [[media:...]] tags in post text against a local
// attachment library.
package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TagPattern matches embedded media tags in post text.
var TagPattern = regexp.MustCompile(`\[\[media:[^\]]+\]\]`)

// TagKind discriminates the parsed tag forms.
type TagKind int

const (
	// TagRandom picks N random files: [[media:random]] or [[media:random:3]].
	TagRandom TagKind = iota
	// TagSpecific picks files by name: [[media:sunset,beach]].
	TagSpecific
	// TagRange picks one random file per numeric range: [[media:1-10]].
	TagRange
)

// NumRange is one inclusive numeric span inside a range tag.
type NumRange struct {
	From int
	To   int
}

// Tag is one parsed media tag.
type Tag struct {
	Kind   TagKind
	Count  int // TagRandom only
	Items  []string
	Ranges []NumRange
}

var randomForm = regexp.MustCompile(`^random(?::(\d+))?$`)

// ParseTag parses the inside of one [[media:...]] tag.
func ParseTag(raw string) (Tag, error) {
	content := strings.TrimSuffix(strings.TrimPrefix(raw, "[[media:"), "]]")

	if m := randomForm.FindStringSubmatch(content); m != nil {
		count := 1
		if m[1] != "" {
			count, _ = strconv.Atoi(m[1])
		}
		if count < 1 {
			count = 1
		}
		return Tag{Kind: TagRandom, Count: count}, nil
	}

	var tag Tag
	for _, part := range strings.Split(content, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if from, to, ok := strings.Cut(part, "-"); ok {
			lo, err1 := strconv.Atoi(strings.TrimSpace(from))
			hi, err2 := strconv.Atoi(strings.TrimSpace(to))
			if err1 != nil || err2 != nil || hi < lo {
				return Tag{}, fmt.Errorf("invalid media range %q", part)
			}
			tag.Ranges = append(tag.Ranges, NumRange{From: lo, To: hi})
			continue
		}
		tag.Items = append(tag.Items, part)
	}

	if len(tag.Ranges) > 0 {
		tag.Kind = TagRange
	} else if len(tag.Items) > 0 {
		tag.Kind = TagSpecific
	} else {
		return Tag{}, fmt.Errorf("empty media tag")
	}
	return tag, nil
}

// StripTags removes all media tags from post text.
func StripTags(text string) string {
	return strings.TrimSpace(TagPattern.ReplaceAllString(text, ""))
}
