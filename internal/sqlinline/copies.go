package sqlinline

const QUpsertGenerationCopy = `--sql 7d4c2a91-6b3e-4f0a-8c57-1e9b3d6f2a08
insert into generation_copies (
    id, batch_id, job_id, scene, copy_index, account, model, operation,
    status, artifact_url, local_path, thumbnail_path, error_kind, error_message, created_at, updated_at
)
values (
    gen_random_uuid(), $1::text, $2::text, $3::int, $4::int, $5::text, $6::text, $7::text,
    $8::text, $9::text, $10::text, $11::text, $12::text, $13::text, now(), now()
)
on conflict (job_id, copy_index) do update set
    account = excluded.account,
    model = excluded.model,
    operation = excluded.operation,
    status = excluded.status,
    artifact_url = excluded.artifact_url,
    local_path = excluded.local_path,
    thumbnail_path = excluded.thumbnail_path,
    error_kind = excluded.error_kind,
    error_message = excluded.error_message,
    updated_at = now();
`

const QSelectCopiesByStatus = `--sql 2f8b6e04-9a1d-4c73-b5e2-6d0c8a3f1b97
select job_id, scene, copy_index, account, model, operation, status, artifact_url, local_path
from generation_copies
where batch_id = $1::text and status = $2::text
order by scene asc, copy_index asc;
`
