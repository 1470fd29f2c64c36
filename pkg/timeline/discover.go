package timeline

import (
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/xob0t/super8/pkg/clip"
)

// NoKey is the sort key of names without any digits. It is larger than any
// real index, so such files go last.
const NoKey = math.MaxInt

var digitRun = regexp.MustCompile(`\p{Nd}+`)

// sourceExts are matched case-insensitively.
var sourceExts = map[string]bool{".mov": true, ".mp4": true}

// SortKey returns the first run of decimal digits in name as an integer, or
// NoKey when there is none. Any Unicode decimal digit counts, so "clip２"
// has key 2. Runs too long for an int sort just before NoKey.
func SortKey(name string) int {
	run := digitRun.FindString(name)
	if run == "" {
		return NoKey
	}
	var ascii strings.Builder
	for _, r := range run {
		ascii.WriteByte(byte('0' + digitValue(r)))
	}
	n, err := strconv.Atoi(ascii.String())
	if err != nil {
		return NoKey - 1
	}
	return n
}

// digitValue returns the value of the decimal digit r. Decimal digits are
// encoded in contiguous blocks running 0 to 9, so the offset from the start
// of r's run of digits gives the value.
func digitValue(r rune) int {
	zero := r
	for unicode.IsDigit(zero - 1) {
		zero--
	}
	return int(r-zero) % 10
}

// DiscoverSources lists the .mov and .mp4 files directly inside dir, ordered
// by SortKey of their file names. Files with equal keys keep directory
// order, which is lexical. Symlinks are followed; a matching name that
// cannot be resolved is an error.
func DiscoverSources(dir string, log *zap.Logger) ([]string, error) {
	if log == nil {
		log = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(clip.ErrMissingAsset, "source directory %s: %v", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !sourceExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		fi, err := os.Stat(path)
		if err != nil {
			return nil, errors.Wrapf(clip.ErrMissingAsset, "source %s: %v", path, err)
		}
		if !fi.Mode().IsRegular() {
			log.Debug("skipping non-file entry", zap.String("path", path))
			continue
		}
		names = append(names, e.Name())
	}
	sort.SliceStable(names, func(i, j int) bool {
		return SortKey(names[i]) < SortKey(names[j])
	})

	log.Info("discovered sources", zap.String("dir", dir), zap.Strings("files", names))

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}
