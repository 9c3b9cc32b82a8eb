package sqlite

// coreSchemaSQL lays the labeled graph out as node tables plus a typed edge
// table. The case-insensitive uniqueness index on tags is deliberately not
// part of the core schema: it is established by the tag registry.
const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS components (
	key        TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL DEFAULT '',
	about      TEXT NOT NULL DEFAULT '',
	context    TEXT NOT NULL DEFAULT '',
	comment    TEXT NOT NULL DEFAULT '',
	source_ref TEXT NOT NULL DEFAULT '',
	content    BLOB NOT NULL,
	size       INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_components_domain  ON components(domain);
CREATE INDEX IF NOT EXISTS idx_components_about   ON components(about);
CREATE INDEX IF NOT EXISTS idx_components_context ON components(context);

CREATE TABLE IF NOT EXISTS tags (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	name_lower TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS edges (
	component_key TEXT    NOT NULL REFERENCES components(key),
	tag_id        INTEGER NOT NULL REFERENCES tags(id),
	type          TEXT    NOT NULL CHECK (type IN ('HAS_TAG', 'TAG_OF')),
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (component_key, tag_id, type)
);

CREATE INDEX IF NOT EXISTS idx_edges_tag ON edges(tag_id);
`
