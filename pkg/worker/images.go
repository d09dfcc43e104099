package worker

import "strings"

// ImageRule maps a command prefix to the sandbox image that runs it (spec
// §9: "the runtime-detection step is a prefix-matching lookup table").
type ImageRule struct {
	Prefixes []string
	Image    string
}

// DefaultImageTable is the default prefix table from spec §9.
var DefaultImageTable = []ImageRule{
	{Prefixes: []string{"python", "py"}, Image: "python:3.11-slim"},
	{Prefixes: []string{"node", "npm"}, Image: "node:22-alpine"},
	{Prefixes: []string{"gcc", "g++"}, Image: "gcc:14-alpine"},
	{Prefixes: []string{"java", "javac"}, Image: "eclipse-temurin:21-alpine"},
	{Prefixes: []string{"dotnet"}, Image: "mcr.microsoft.com/dotnet/runtime:8.0"},
}

// DefaultImage is used when no prefix in the table matches.
const DefaultImage = "alpine:latest"

// SelectImage resolves command against table, falling back to DefaultImage.
func SelectImage(command string, table []ImageRule) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return DefaultImage
	}
	first := fields[0]
	for _, rule := range table {
		for _, prefix := range rule.Prefixes {
			if strings.HasPrefix(first, prefix) {
				return rule.Image
			}
		}
	}
	return DefaultImage
}
