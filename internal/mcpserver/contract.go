package mcpserver

// QuerySyntax describes the filter and tag criteria language accepted by
// the search_components tool.
const QuerySyntax = `# Component Query Syntax

search_components selects components by property filters and an optional
boolean tag expression.

## Property filters

- ` + "`domain`, `about`, `context`" + `: comma-separated values. A component
  matches when its property equals any of the values. Filters on different
  properties must all match.
- ` + "`size`" + `: one bucket, an inclusive upper bound on content length in bytes.

| bucket      | max bytes |
|-------------|-----------|
| bullet      | 50        |
| summary     | 500       |
| description | 1000      |
| overview    | 3000      |

Use the property_values tool to discover the stored values of a property.

## Tag criteria

    criteria := term (('&' | '|') term)*
    term     := '(' criteria ')' | 'literal'

- Literals are single-quoted and match any linked tag whose name contains
  the literal, ignoring case: ` + "`'acme'`" + ` matches the tag "Acme Corp".
- ` + "`&`" + ` binds tighter than ` + "`|`" + `; use parentheses to group.
- Allowed characters are letters, digits, spaces, quotes, parentheses, ` + "`&`" + ` and ` + "`|`" + `.

Examples:

    'acme'
    'acme' & 'widget'
    ('cloud' | 'edge') & 'acme'

## Results

With criteria, each row pairs a component with one matched tag. Pass
` + "`unique: true`" + ` to get each component once.
`
