package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Engine definitions reachable through a capability key
			CREATE TABLE engines (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				api_key_hash TEXT NOT NULL DEFAULT '',
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				models JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_engines_user_id ON engines(user_id);

			-- One row per execution; the store knows three statuses only
			CREATE TABLE executions (
				id VARCHAR(255) PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				engine_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
				execution_data JSONB NOT NULL DEFAULT '{}',
				tokens_used BIGINT NOT NULL DEFAULT 0,
				cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
				execution_time_ms BIGINT NOT NULL DEFAULT 0,
				error_message TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_executions_status ON executions(status);
			CREATE INDEX idx_executions_user_id ON executions(user_id);
			CREATE INDEX idx_executions_updated_at ON executions(updated_at);
		`,
		2: `
			-- Book artifacts, one per execution
			CREATE TABLE book_results (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				title TEXT NOT NULL,
				format_urls JSONB NOT NULL DEFAULT '{}',
				content JSONB NOT NULL DEFAULT '{}',
				metadata JSONB NOT NULL DEFAULT '{}',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_book_results_execution_id ON book_results ((metadata->>'execution_id'));
			CREATE INDEX idx_book_results_user_id ON book_results(user_id);
		`,
		3: `
			-- Token accounting
			CREATE TABLE user_balances (
				user_id VARCHAR(255) PRIMARY KEY,
				balance BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE token_ledger (
				id UUID PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				engine_id VARCHAR(255) NOT NULL DEFAULT '',
				provider VARCHAR(100) NOT NULL DEFAULT '',
				model VARCHAR(255) NOT NULL DEFAULT '',
				kind VARCHAR(20) NOT NULL,
				reason TEXT NOT NULL DEFAULT '',
				tokens BIGINT NOT NULL,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				amount BIGINT NOT NULL CHECK (amount > 0),
				debited_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_token_ledger_execution_id ON token_ledger(execution_id);
			CREATE INDEX idx_token_ledger_user_id ON token_ledger(user_id);

			CREATE TABLE usage_logs (
				id BIGSERIAL PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				provider VARCHAR(100) NOT NULL,
				model VARCHAR(255) NOT NULL,
				tokens BIGINT NOT NULL,
				cost DOUBLE PRECISION NOT NULL DEFAULT 0,
				logged_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_usage_logs_execution_id ON usage_logs(execution_id);
		`,
	}
}
