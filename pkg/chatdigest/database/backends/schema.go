package backends

// All timestamp columns hold UTC wall-clock values without zone information.
// summary_time is stored as "HH:MM" text on every backend.

// SQLiteMigrations returns the SQLite schema history.
func SQLiteMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "initial schema",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS chats (
    id            INTEGER PRIMARY KEY,
    chat_title    TEXT NOT NULL DEFAULT '',
    bot_added_at  DATETIME NOT NULL,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    deleted_at    DATETIME
)`,
				`CREATE TABLE IF NOT EXISTS chat_settings (
    chat_id       INTEGER PRIMARY KEY REFERENCES chats(id) ON DELETE CASCADE,
    summary_time  TEXT NOT NULL DEFAULT '19:00',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL,
    deleted_at    DATETIME
)`,
				`CREATE TABLE IF NOT EXISTS users (
    id                          INTEGER PRIMARY KEY,
    username                    TEXT NOT NULL DEFAULT '',
    first_name                  TEXT NOT NULL DEFAULT '',
    last_name                   TEXT NOT NULL DEFAULT '',
    bot_interaction_created_at  DATETIME NOT NULL,
    created_at                  DATETIME NOT NULL,
    updated_at                  DATETIME NOT NULL,
    deleted_at                  DATETIME
)`,
				`CREATE TABLE IF NOT EXISTS chat_admins (
    user_id                      INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    chat_id                      INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    first_acknowledged_admin_at  DATETIME NOT NULL,
    created_at                   DATETIME NOT NULL,
    updated_at                   DATETIME NOT NULL,
    deleted_at                   DATETIME,
    PRIMARY KEY (user_id, chat_id)
)`,
				`CREATE TABLE IF NOT EXISTS summaries (
    id                   TEXT PRIMARY KEY,
    chat_id              INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    generated_at         DATETIME NOT NULL,
    summary_content      TEXT NOT NULL,
    messages_since_time  DATETIME NOT NULL,
    messages_until_time  DATETIME NOT NULL,
    created_at           DATETIME NOT NULL,
    updated_at           DATETIME NOT NULL,
    deleted_at           DATETIME
)`,
				`CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id         INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    sender_user_id  INTEGER NOT NULL REFERENCES users(id),
    message_text    TEXT,
    message_type    TEXT NOT NULL,
    sent_at         DATETIME NOT NULL,
    summary_id      TEXT REFERENCES summaries(id),
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    deleted_at      DATETIME
)`,
				`CREATE TABLE IF NOT EXISTS documents (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    message_id             INTEGER NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
    file_handle            TEXT NOT NULL UNIQUE,
    file_name              TEXT NOT NULL DEFAULT '',
    file_type              TEXT NOT NULL DEFAULT '',
    file_size_bytes        INTEGER NOT NULL DEFAULT 0,
    analysis_content       TEXT,
    processing_status      TEXT NOT NULL DEFAULT 'not_started',
    analysis_started_at    DATETIME,
    analysis_completed_at  DATETIME,
    created_at             DATETIME NOT NULL,
    updated_at             DATETIME NOT NULL,
    deleted_at             DATETIME
)`,
			},
		},
		{
			Version: 2,
			Name:    "pipeline indexes and attempt counter",
			Statements: []string{
				`ALTER TABLE documents ADD COLUMN analysis_attempts INTEGER NOT NULL DEFAULT 0`,
				`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status, id)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at)`,
				`CREATE INDEX IF NOT EXISTS idx_summaries_chat_until ON summaries(chat_id, messages_until_time)`,
			},
		},
	}
}

// PostgreSQLMigrations returns the PostgreSQL schema history.
func PostgreSQLMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "initial schema",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS chats (
    id            BIGINT PRIMARY KEY,
    chat_title    TEXT NOT NULL DEFAULT '',
    bot_added_at  TIMESTAMP NOT NULL,
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL,
    deleted_at    TIMESTAMP
)`,
				`CREATE TABLE IF NOT EXISTS chat_settings (
    chat_id       BIGINT PRIMARY KEY REFERENCES chats(id) ON DELETE CASCADE,
    summary_time  VARCHAR(5) NOT NULL DEFAULT '19:00',
    created_at    TIMESTAMP NOT NULL,
    updated_at    TIMESTAMP NOT NULL,
    deleted_at    TIMESTAMP
)`,
				`CREATE TABLE IF NOT EXISTS users (
    id                          BIGINT PRIMARY KEY,
    username                    TEXT NOT NULL DEFAULT '',
    first_name                  TEXT NOT NULL DEFAULT '',
    last_name                   TEXT NOT NULL DEFAULT '',
    bot_interaction_created_at  TIMESTAMP NOT NULL,
    created_at                  TIMESTAMP NOT NULL,
    updated_at                  TIMESTAMP NOT NULL,
    deleted_at                  TIMESTAMP
)`,
				`CREATE TABLE IF NOT EXISTS chat_admins (
    user_id                      BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    chat_id                      BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    first_acknowledged_admin_at  TIMESTAMP NOT NULL,
    created_at                   TIMESTAMP NOT NULL,
    updated_at                   TIMESTAMP NOT NULL,
    deleted_at                   TIMESTAMP,
    PRIMARY KEY (user_id, chat_id)
)`,
				`CREATE TABLE IF NOT EXISTS summaries (
    id                   UUID PRIMARY KEY,
    chat_id              BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    generated_at         TIMESTAMP NOT NULL,
    summary_content      TEXT NOT NULL,
    messages_since_time  TIMESTAMP NOT NULL,
    messages_until_time  TIMESTAMP NOT NULL,
    created_at           TIMESTAMP NOT NULL,
    updated_at           TIMESTAMP NOT NULL,
    deleted_at           TIMESTAMP
)`,
				`CREATE TABLE IF NOT EXISTS messages (
    id              BIGSERIAL PRIMARY KEY,
    chat_id         BIGINT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    sender_user_id  BIGINT NOT NULL REFERENCES users(id),
    message_text    TEXT,
    message_type    VARCHAR(16) NOT NULL,
    sent_at         TIMESTAMP NOT NULL,
    summary_id      UUID REFERENCES summaries(id),
    created_at      TIMESTAMP NOT NULL,
    updated_at      TIMESTAMP NOT NULL,
    deleted_at      TIMESTAMP
)`,
				`CREATE TABLE IF NOT EXISTS documents (
    id                     BIGSERIAL PRIMARY KEY,
    message_id             BIGINT NOT NULL UNIQUE REFERENCES messages(id) ON DELETE CASCADE,
    file_handle            TEXT NOT NULL UNIQUE,
    file_name              TEXT NOT NULL DEFAULT '',
    file_type              TEXT NOT NULL DEFAULT '',
    file_size_bytes        BIGINT NOT NULL DEFAULT 0,
    analysis_content       TEXT,
    processing_status      VARCHAR(16) NOT NULL DEFAULT 'not_started',
    analysis_started_at    TIMESTAMP,
    analysis_completed_at  TIMESTAMP,
    created_at             TIMESTAMP NOT NULL,
    updated_at             TIMESTAMP NOT NULL,
    deleted_at             TIMESTAMP
)`,
			},
		},
		{
			Version: 2,
			Name:    "pipeline indexes and attempt counter",
			Statements: []string{
				`ALTER TABLE documents ADD COLUMN IF NOT EXISTS analysis_attempts INTEGER NOT NULL DEFAULT 0`,
				`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(processing_status, id)`,
				`CREATE INDEX IF NOT EXISTS idx_messages_chat_sent ON messages(chat_id, sent_at)`,
				`CREATE INDEX IF NOT EXISTS idx_summaries_chat_until ON summaries(chat_id, messages_until_time)`,
			},
		},
	}
}

// MySQLMigrations returns the MySQL schema history.
func MySQLMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "initial schema",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS chats (
    id            BIGINT PRIMARY KEY,
    chat_title    VARCHAR(255) NOT NULL DEFAULT '',
    bot_added_at  DATETIME(6) NOT NULL,
    created_at    DATETIME(6) NOT NULL,
    updated_at    DATETIME(6) NOT NULL,
    deleted_at    DATETIME(6) NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS chat_settings (
    chat_id       BIGINT PRIMARY KEY,
    summary_time  VARCHAR(5) NOT NULL DEFAULT '19:00',
    created_at    DATETIME(6) NOT NULL,
    updated_at    DATETIME(6) NOT NULL,
    deleted_at    DATETIME(6) NULL,
    CONSTRAINT fk_settings_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS users (
    id                          BIGINT PRIMARY KEY,
    username                    VARCHAR(255) NOT NULL DEFAULT '',
    first_name                  VARCHAR(255) NOT NULL DEFAULT '',
    last_name                   VARCHAR(255) NOT NULL DEFAULT '',
    bot_interaction_created_at  DATETIME(6) NOT NULL,
    created_at                  DATETIME(6) NOT NULL,
    updated_at                  DATETIME(6) NOT NULL,
    deleted_at                  DATETIME(6) NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS chat_admins (
    user_id                      BIGINT NOT NULL,
    chat_id                      BIGINT NOT NULL,
    first_acknowledged_admin_at  DATETIME(6) NOT NULL,
    created_at                   DATETIME(6) NOT NULL,
    updated_at                   DATETIME(6) NOT NULL,
    deleted_at                   DATETIME(6) NULL,
    PRIMARY KEY (user_id, chat_id),
    CONSTRAINT fk_admins_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    CONSTRAINT fk_admins_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS summaries (
    id                   CHAR(36) PRIMARY KEY,
    chat_id              BIGINT NOT NULL,
    generated_at         DATETIME(6) NOT NULL,
    summary_content      MEDIUMTEXT NOT NULL,
    messages_since_time  DATETIME(6) NOT NULL,
    messages_until_time  DATETIME(6) NOT NULL,
    created_at           DATETIME(6) NOT NULL,
    updated_at           DATETIME(6) NOT NULL,
    deleted_at           DATETIME(6) NULL,
    CONSTRAINT fk_summaries_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS messages (
    id              BIGINT AUTO_INCREMENT PRIMARY KEY,
    chat_id         BIGINT NOT NULL,
    sender_user_id  BIGINT NOT NULL,
    message_text    MEDIUMTEXT NULL,
    message_type    VARCHAR(16) NOT NULL,
    sent_at         DATETIME(6) NOT NULL,
    summary_id      CHAR(36) NULL,
    created_at      DATETIME(6) NOT NULL,
    updated_at      DATETIME(6) NOT NULL,
    deleted_at      DATETIME(6) NULL,
    CONSTRAINT fk_messages_chat FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE,
    CONSTRAINT fk_messages_user FOREIGN KEY (sender_user_id) REFERENCES users(id),
    CONSTRAINT fk_messages_summary FOREIGN KEY (summary_id) REFERENCES summaries(id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
				`CREATE TABLE IF NOT EXISTS documents (
    id                     BIGINT AUTO_INCREMENT PRIMARY KEY,
    message_id             BIGINT NOT NULL UNIQUE,
    file_handle            VARCHAR(512) NOT NULL UNIQUE,
    file_name              VARCHAR(255) NOT NULL DEFAULT '',
    file_type              VARCHAR(255) NOT NULL DEFAULT '',
    file_size_bytes        BIGINT NOT NULL DEFAULT 0,
    analysis_content       MEDIUMTEXT NULL,
    processing_status      VARCHAR(16) NOT NULL DEFAULT 'not_started',
    analysis_started_at    DATETIME(6) NULL,
    analysis_completed_at  DATETIME(6) NULL,
    created_at             DATETIME(6) NOT NULL,
    updated_at             DATETIME(6) NOT NULL,
    deleted_at             DATETIME(6) NULL,
    CONSTRAINT fk_documents_message FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			},
		},
		{
			Version: 2,
			Name:    "pipeline indexes and attempt counter",
			Statements: []string{
				`ALTER TABLE documents ADD COLUMN analysis_attempts INT NOT NULL DEFAULT 0`,
				`CREATE INDEX idx_documents_status ON documents(processing_status, id)`,
				`CREATE INDEX idx_messages_chat_sent ON messages(chat_id, sent_at)`,
				`CREATE INDEX idx_summaries_chat_until ON summaries(chat_id, messages_until_time)`,
			},
		},
	}
}
