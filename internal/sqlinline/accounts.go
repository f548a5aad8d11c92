package sqlinline

const QSelectProviderAccounts = `--sql 3c1f6a2e-5d84-4b7a-9e21-0f6d2b7c8a41
select name, provider, tokens, scope_id, enabled
from provider_accounts
where provider = $1::text
order by created_at asc, name asc;
`

const QUpsertProviderAccount = `--sql 9b2e4d71-1c3a-4f58-8e6b-7a0d5c2f9e13
insert into provider_accounts (id, name, provider, tokens, scope_id, enabled, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, $3::text[], $4::text, $5::boolean, now(), now())
on conflict (name) do update set
    provider = excluded.provider,
    tokens = excluded.tokens,
    scope_id = excluded.scope_id,
    enabled = excluded.enabled,
    updated_at = now();
`

const QDisableProviderAccount = `--sql 5e7a9c13-8d2b-4a61-b0f4-2c9e6d1a7b85
update provider_accounts
set enabled = false, updated_at = now()
where name = $1::text;
`
