package changelist

import (
	"strings"
)

// parseZtag splits p4 -ztag output into records. Records are
// separated by blank lines; each field line reads "... key value".
func parseZtag(out string) []map[string]string {
	records := make([]map[string]string, 0)
	current := map[string]string{}
	flush := func() {
		if len(current) > 0 {
			records = append(records, current)
			current = map[string]string{}
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			flush()
			continue
		}
		if !strings.HasPrefix(line, "... ") {
			// continuation of a multi-line value (e.g. desc)
			continue
		}
		parts := strings.SplitN(line[4:], " ", 2)
		if len(parts) == 1 {
			current[parts[0]] = ""
			continue
		}
		current[parts[0]] = parts[1]
	}
	flush()
	return records
}

type change struct {
	id          string
	date        string
	user        string
	client      string
	description string
}

// parseChanges reads "p4 changes -l" output: one header line per
// change ("Change <id> on <date> by <user>@<client>") followed by
// indented description lines.
func parseChanges(out string) []change {
	changes := make([]change, 0)
	var current *change
	var desc []string
	flush := func() {
		if current != nil {
			current.description = strings.TrimSpace(strings.Join(desc, "\n"))
			changes = append(changes, *current)
			current = nil
			desc = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "Change ") {
			flush()
			fields := strings.Fields(line)
			if len(fields) < 6 {
				continue
			}
			c := change{id: fields[1], date: fields[3]}
			userClient := strings.SplitN(fields[5], "@", 2)
			c.user = userClient[0]
			if len(userClient) == 2 {
				c.client = userClient[1]
			}
			current = &c
			continue
		}
		if current != nil && strings.TrimSpace(line) != "" {
			desc = append(desc, strings.TrimSpace(line))
		}
	}
	flush()
	return changes
}
