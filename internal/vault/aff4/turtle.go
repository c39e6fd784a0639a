package aff4

import "strings"

// parseTurtle is a deliberately minimal Turtle RDF reader, sufficient for
// the flat subject/predicate/object statements AFF4 metadata actually uses
// (§4.2.4): @prefix declarations, one statement per line, angle-bracket
// IRIs, quoted literals, and prefixed names. It does not attempt blank
// nodes, collections, or multi-line objects.
func parseTurtle(content string) []statement {
	var statements []statement
	var prefixes [][2]string
	currentSubject := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "@prefix") {
			if p, uri, ok := parsePrefixLine(line); ok {
				prefixes = append(prefixes, [2]string{p, uri})
			}
			continue
		}

		stmt, ok := parseStatementLine(line, prefixes, currentSubject)
		if !ok {
			continue
		}
		if stmt.subject != "" {
			currentSubject = stmt.subject
		}
		statements = append(statements, stmt)
	}

	return statements
}

func parsePrefixLine(line string) (prefix, uri string, ok bool) {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return "", "", false
	}
	prefix = strings.TrimSuffix(parts[1], ":")
	uri = strings.TrimSuffix(strings.TrimPrefix(parts[2], "<"), ">")
	return prefix, uri, true
}

func parseStatementLine(line string, prefixes [][2]string, currentSubject string) (statement, bool) {
	line = strings.TrimSuffix(strings.TrimSpace(line), ".")
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return statement{}, false
	}

	var subject string
	predIdx := 0
	if strings.HasPrefix(parts[0], "<") || strings.Contains(parts[0], ":") {
		subject = expandURI(parts[0], prefixes)
		predIdx = 1
	} else {
		subject = currentSubject
	}

	if len(parts) <= predIdx+1 {
		return statement{}, false
	}

	predicate := expandURI(parts[predIdx], prefixes)
	object := expandURI(strings.Join(parts[predIdx+1:], " "), prefixes)

	return statement{subject: subject, predicate: predicate, object: object}, true
}

func expandURI(uri string, prefixes [][2]string) string {
	if strings.HasPrefix(uri, "<") && strings.HasSuffix(uri, ">") {
		return uri[1 : len(uri)-1]
	}

	if strings.HasPrefix(uri, "\"") {
		rest := uri[1:]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			return rest[:end]
		}
		return rest
	}

	if colon := strings.IndexByte(uri, ':'); colon >= 0 {
		prefix, local := uri[:colon], uri[colon+1:]
		for _, p := range prefixes {
			if p[0] == prefix {
				return p[1] + local
			}
		}
	}

	return uri
}
