package repository

// Schema definitions for the risk service database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_tenant ON rule_configs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(tenant_id, enabled);
`

// schemaScoringProfiles stores named scoring tables as JSON.
const schemaScoringProfiles = `
CREATE TABLE IF NOT EXISTS scoring_profiles (
    name TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    config TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (name, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_scoring_profiles_enabled ON scoring_profiles(tenant_id, enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleConfigs,
		schemaScoringProfiles,
	}
}
