package postgres

// migration is one forward-only schema step. Statements run in a single
// transaction; never edit a shipped migration, append a new one.
type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "extensions",
		statements: []string{
			`CREATE EXTENSION IF NOT EXISTS vector`,
		},
	},
	{
		version: 2,
		name:    "semantic_memories",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS mega_agent.semantic_memories (
				id                  TEXT PRIMARY KEY,
				namespace           TEXT NOT NULL DEFAULT 'default',
				user_id             TEXT NOT NULL,
				case_id             TEXT,
				thread_id           TEXT,
				type                TEXT NOT NULL DEFAULT 'semantic',
				text                TEXT NOT NULL,
				source              TEXT NOT NULL DEFAULT '',
				tags                TEXT[] NOT NULL DEFAULT '{}',
				metadata            JSONB NOT NULL DEFAULT '{}',
				embedding           VECTOR,
				embedding_model     TEXT NOT NULL DEFAULT '',
				embedding_dimension INT NOT NULL DEFAULT 0,
				salience            DOUBLE PRECISION NOT NULL DEFAULT 0.7,
				confidence          DOUBLE PRECISION NOT NULL DEFAULT 0.6,
				created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_semantic_ns_user
				ON mega_agent.semantic_memories (namespace, user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_semantic_tags
				ON mega_agent.semantic_memories USING GIN (tags)`,
			`CREATE INDEX IF NOT EXISTS idx_semantic_case
				ON mega_agent.semantic_memories (case_id) WHERE case_id IS NOT NULL`,
		},
	},
	{
		version: 3,
		name:    "episodic_events",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS mega_agent.episodic_events (
				event_id   TEXT PRIMARY KEY,
				ts         TIMESTAMPTZ NOT NULL DEFAULT now(),
				user_id    TEXT NOT NULL DEFAULT '',
				thread_id  TEXT NOT NULL DEFAULT 'global',
				source     TEXT NOT NULL,
				action     TEXT NOT NULL,
				payload    JSONB NOT NULL DEFAULT '{}',
				tags       TEXT[] NOT NULL DEFAULT '{}'
			)`,
			`CREATE INDEX IF NOT EXISTS idx_episodic_thread_ts
				ON mega_agent.episodic_events (thread_id, ts, event_id)`,
			`CREATE INDEX IF NOT EXISTS idx_episodic_ts
				ON mega_agent.episodic_events (ts)`,
			`CREATE INDEX IF NOT EXISTS idx_episodic_tags
				ON mega_agent.episodic_events USING GIN (tags)`,
		},
	},
	{
		version: 4,
		name:    "rmt_buffers",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS mega_agent.rmt_buffers (
				thread_id  TEXT PRIMARY KEY,
				slots      JSONB NOT NULL DEFAULT '{}',
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				expires_at TIMESTAMPTZ
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rmt_expires
				ON mega_agent.rmt_buffers (expires_at) WHERE expires_at IS NOT NULL`,
		},
	},
	{
		version: 5,
		name:    "documents_and_cases",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS mega_agent.cases (
				case_id    TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL,
				title      TEXT NOT NULL DEFAULT '',
				status     TEXT NOT NULL DEFAULT 'open',
				metadata   JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS mega_agent.documents (
				document_id TEXT PRIMARY KEY,
				case_id     TEXT,
				user_id     TEXT NOT NULL,
				file_name   TEXT NOT NULL,
				format      TEXT NOT NULL DEFAULT '',
				byte_size   BIGINT NOT NULL DEFAULT 0,
				page_count  INT NOT NULL DEFAULT 0,
				chunk_count INT NOT NULL DEFAULT 0,
				metadata    JSONB NOT NULL DEFAULT '{}',
				created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_documents_case
				ON mega_agent.documents (case_id) WHERE case_id IS NOT NULL`,
		},
	},
	{
		version: 6,
		name:    "semantic_ann_index",
		statements: []string{
			// HNSW needs a typed column; dimension is fixed per deployment.
			// The index is created lazily by EnsureVectorIndex once the
			// dimension is known, so this migration only documents intent.
			`COMMENT ON COLUMN mega_agent.semantic_memories.embedding IS
				'fixed-dimension vector; ANN index created at startup for the configured dimension'`,
		},
	},
}
