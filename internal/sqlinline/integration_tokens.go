package sqlinline

const QSelectProviderToken = `--sql 3b1f6c2e-94d0-4f7a-a0c1-5e2d8b7f4a19
select token
from integration_tokens
where provider = $1::text
  and coalesce(token, '') <> ''
limit 1;
`

const QUpsertProviderToken = `--sql c7e2a9d4-1b3f-4e8a-9d6c-2f5a7b0e3c81
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QCreateIntegrationTokens = `--sql 8e4b1d7a-5c20-4f93-b6a8-d1f3e9c27b05
create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
