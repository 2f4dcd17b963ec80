package utils

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var imdbIDRegex = regexp.MustCompile(`^tt\d+$`)

// IgnoreList holds the imdb ids and titles that are never synchronized
type IgnoreList struct {
	ids    map[string]bool
	titles map[string]string
}

// LoadIgnoreList loads ignore entries from a file, one imdb id or title per line.
// A missing file yields an empty list.
func LoadIgnoreList(path string) (*IgnoreList, error) {
	list := &IgnoreList{ids: map[string]bool{}, titles: map[string]string{}}

	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return list, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ignore list: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		list.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ignore list: %w", err)
	}
	return list, nil
}

// Add registers one entry. Blank lines and # comments are skipped.
func (l *IgnoreList) Add(entry string) {
	entry = strings.TrimSpace(entry)
	if entry == "" || strings.HasPrefix(entry, "#") {
		return
	}
	if id := strings.ToLower(entry); imdbIDRegex.MatchString(id) {
		l.ids[id] = true
		return
	}
	l.titles[NormalizeTitle(entry)] = entry
}

// Len returns the number of entries
func (l *IgnoreList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.ids) + len(l.titles)
}

// IsIgnored checks an item against the list.
// Returns (isIgnored, matchedEntry)
func (l *IgnoreList) IsIgnored(imdbID, title string) (bool, string) {
	if l == nil {
		return false, ""
	}
	if imdbID != "" && l.ids[strings.ToLower(imdbID)] {
		return true, imdbID
	}
	if title != "" {
		if entry, ok := l.titles[NormalizeTitle(title)]; ok {
			return true, entry
		}
	}
	return false, ""
}
