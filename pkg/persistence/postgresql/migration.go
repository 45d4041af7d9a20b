package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create job_runs table
			CREATE TABLE job_runs (
				id UUID PRIMARY KEY,
				user_id VARCHAR(255) NOT NULL,
				mission_id VARCHAR(255) NOT NULL,
				idempotency_key VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'claimed', 'running', 'succeeded', 'failed', 'dead', 'cancelled')),
				priority INT NOT NULL DEFAULT 0,
				scheduled_for TIMESTAMP WITH TIME ZONE NOT NULL,
				attempt INT NOT NULL DEFAULT 0,
				max_attempts INT NOT NULL DEFAULT 3,
				backoff_ms BIGINT NOT NULL DEFAULT 0,
				lease_token UUID,
				lease_expires_at TIMESTAMP WITH TIME ZONE,
				heartbeat_at TIMESTAMP WITH TIME ZONE,
				source VARCHAR(50) NOT NULL DEFAULT 'scheduler',
				run_key VARCHAR(255),
				input_snapshot JSONB,
				error_code VARCHAR(255),
				error_detail TEXT,
				output_summary TEXT,
				duration_ms BIGINT,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE UNIQUE INDEX idx_job_runs_idempotency_key ON job_runs(idempotency_key) WHERE idempotency_key IS NOT NULL;
			CREATE INDEX idx_job_runs_status_scheduled_for ON job_runs(status, scheduled_for);
			CREATE INDEX idx_job_runs_user_id_status ON job_runs(user_id, status);
			CREATE INDEX idx_job_runs_mission_id ON job_runs(mission_id);
			CREATE INDEX idx_job_runs_lease_expires_at ON job_runs(lease_expires_at) WHERE status = 'claimed';

			-- Create job_audit_events table (append-only)
			CREATE TABLE job_audit_events (
				id UUID PRIMARY KEY,
				job_run_id UUID NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				event VARCHAR(255) NOT NULL,
				actor VARCHAR(255) NOT NULL,
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX idx_job_audit_events_job_run_id ON job_audit_events(job_run_id);
			CREATE INDEX idx_job_audit_events_created_at ON job_audit_events(created_at);
		`,
	}
}
