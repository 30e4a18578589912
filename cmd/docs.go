package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

// https://pmarsceill.github.io/just-the-docs/docs/navigation-structure/
const rootDoc = `---
layout: default
title: %s
nav_order: %d
has_children: true
permalink: /
---
`

// child command without children
const childDoc = `---
layout: default
title: %s
parent: %s
nav_order: %d
---
`

// child with children
const childParentDoc = `---
layout: default
title: %s
parent: %s
nav_order: %d
has_children: true
---
`

// grandchildren
const grandchildDoc = `---
layout: default
title: %s
parent: %s
grand_parent: %s
nav_order: %d
---
`

// docType codes whether the command is a grandchild, child, etc
type docType int

const (
	unknownDoc docType = iota
	root
	child
	childParent
	grandchild
)

// meta is the position of a command's page in the docs
type meta struct {
	docType     docType
	title       string
	navOrder    int
	parent      string
	grandParent string
}

// map from the base Markdown file name to its page meta
var metaMap = map[string]meta{
	"pcrdesign":             {root, "pcrdesign", 0, "", ""},
	"pcrdesign_design":      {child, "design", 0, "pcrdesign", ""},
	"pcrdesign_blast":       {child, "blast", 1, "pcrdesign", ""},
	"pcrdesign_nucleotide":  {child, "nucleotide", 2, "pcrdesign", ""},
	"pcrdesign_serve":       {child, "serve", 3, "pcrdesign", ""},
	"pcrdesign_cache":       {childParent, "cache", 4, "pcrdesign", ""},
	"pcrdesign_cache_stats": {grandchild, "stats", 0, "cache", "pcrdesign"},
	"pcrdesign_docs":        {child, "docs", 5, "pcrdesign", ""},
}

// docsCmd writes Markdown documentation for every command
var docsCmd = &cobra.Command{
	Use:   "docs [dir]",
	Short: "Write Markdown documentation for the commands",
	Args:  cobra.MaximumNArgs(1),
	// no settings are needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "./docs"
		if len(args) > 0 {
			dir = args[0]
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		return doc.GenMarkdownTreeCustom(RootCmd, dir, filePrepender, linkHandler)
	},
}

func init() {
	RootCmd.AddCommand(docsCmd)
}

// filePrepender adds YAML headings that are required by the just-the-docs theme
// https://github.com/spf13/cobra/blob/master/doc/md_docs.md
func filePrepender(filename string) string {
	m := metaMap[docBase(filename)]

	switch m.docType {
	case root:
		return fmt.Sprintf(rootDoc, m.title, m.navOrder)
	case child:
		return fmt.Sprintf(childDoc, m.title, m.parent, m.navOrder)
	case childParent:
		return fmt.Sprintf(childParentDoc, m.title, m.parent, m.navOrder)
	case grandchild:
		return fmt.Sprintf(grandchildDoc, m.title, m.parent, m.grandParent, m.navOrder)
	}
	return ""
}

// linkHandler returns the URL to a documentation page
func linkHandler(filename string) string {
	base := docBase(filename)
	if base == "pcrdesign" {
		return "/"
	}
	return base
}

func docBase(filename string) string {
	name := filepath.Base(filename)
	return strings.TrimSuffix(name, path.Ext(name))
}
