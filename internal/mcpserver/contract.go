package mcpserver

// DemoFormatContract describes the on-disk layout of a demo folder.
const DemoFormatContract = `# leetlab Demo Format Contract

Every demo is one folder directly under the demos root. The folder name is
the demo id.

## Layout

` + "```" + `
<demos root>/
  2026-02-19-2620-counter/     # id: YYYY-MM-DD-<slug> or any <slug>
    demo.html                  # REQUIRED – HTML fragment shown by the host
    algo.js                    # OPTIONAL – plain JavaScript, top-level functions
    meta.yaml                  # OPTIONAL – title / date / tags overrides
    assets/                    # OPTIONAL – served at /demos/<id>/assets/<file>
` + "```" + `

## Identity and defaults

1. **Date** is taken from the first 10 characters of the id when they match
   ` + "`" + `YYYY-MM-DD` + "`" + `. Otherwise the date is ` + "`" + `unknown-date` + "`" + `.
2. **Title** is the rest of the id after the date and the separating dash,
   with runs of ` + "`" + `-` + "`" + ` and ` + "`" + `_` + "`" + ` turned into spaces and every word capitalised
   (` + "`" + `2620-counter` + "`" + ` becomes ` + "`" + `2620 Counter` + "`" + `).
3. **Tags** default to none.

## meta.yaml

` + "```" + `yaml
title: Counter          # OPTIONAL – non-empty string
date: 2026-02-19        # OPTIONAL – YYYY-MM-DD
tags: [closure, counter] # OPTIONAL – list of non-empty strings
` + "```" + `

Present fields override the inferred ones. A malformed file is ignored with a
warning; the demo keeps its inferred title, date and tags.

## algo.js

Top-level function declarations are the demo's exports. A closure factory
returns a function that keeps state between calls:

` + "```" + `js
function createCounter(n) {
  return function () { return n++; };
}
` + "```" + `

The ` + "`" + `invoke_demo` + "`" + ` tool calls the factory once with ` + "`" + `args` + "`" + `, then calls the returned
closure once per entry of ` + "`" + `calls` + "`" + `, all in the same runtime.

## Ordering

Dated demos come first, newest first. Undated demos follow, sorted by title.
`
