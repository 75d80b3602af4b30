package sqlinline

const QCreateGenerationEvents = `--sql 9d3e7a41-2c58-4b6f-8e1a-7f0c4d2b9e65
create table if not exists generation_events (
    id uuid primary key,
    seq bigint not null,
    occurred_at timestamptz not null,
    kind text not null,
    job_id text,
    provider text,
    status text,
    error_kind text,
    estimated_micros bigint not null default 0,
    cost_micros bigint not null default 0,
    payload jsonb not null default '{}'::jsonb
);
`

const QIndexGenerationEvents = `--sql 51b8c0f2-6a7d-4e39-b2c4-0e8f1a6d3c72
create index if not exists generation_events_kind_time_idx
    on generation_events (kind, occurred_at);
`

const QInsertGenerationEvent = `--sql e4a2f6c9-8b1d-4c73-95e0-3d7b2a8f1c46
insert into generation_events (id, seq, occurred_at, kind, job_id, provider, status, error_kind, estimated_micros, cost_micros, payload)
values ($1::uuid, $2, $3, $4, nullif($5, ''), nullif($6, ''), nullif($7, ''), nullif($8, ''), $9, $10, coalesce($11::jsonb, '{}'::jsonb))
on conflict (id) do nothing;
`

const QSelectProviderAttemptStats = `--sql 7c1d9b3e-4f26-4a85-a0e7-6b2c8d5f9a13
select
    provider,
    count(*) filter (where status <> 'skipped') as attempts,
    count(*) filter (where status = 'succeeded') as succeeded,
    count(*) filter (where status = 'failed') as failed,
    count(*) filter (where status = 'timed_out') as timed_out,
    count(*) filter (where status = 'skipped') as skipped,
    coalesce(sum(cost_micros), 0) as cost_micros
from generation_events
where kind = 'attempt' and provider is not null
group by provider
order by provider;
`

const QSelectSpendSince = `--sql 2f8a6e0d-b3c1-4d97-8a5f-c1e4b7d2a069
select coalesce(sum(cost_micros), 0)
from generation_events
where kind = 'attempt' and occurred_at >= $1;
`
