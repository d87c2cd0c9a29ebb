package sqlinline

const QEnsureMoltHistory = `--sql 9d2e4c71-6b3a-4f08-8e5d-1a7c3b9f2e40
create table if not exists molt_history (
    day_number     integer primary key,
    reflection     text not null,
    prompt         text not null,
    image_url      text not null,
    upload_result  jsonb not null default '{}'::jsonb,
    created_at     timestamptz not null
);
`

// QLockMoltHistory takes a transaction scoped advisory lock so guard and
// append run as one critical section across processes.
const QLockMoltHistory = `--sql 5a8f0e13-c4d7-4b92-a6e1-0f3d7c2b9a58
select pg_advisory_xact_lock(hashtext('molt_history'));
`

const QSelectMoltHistory = `--sql 1c7b3e9a-8f24-4d6e-b051-7e9a2c4f6d13
select day_number, reflection, prompt, image_url, upload_result, created_at
from molt_history
order by day_number asc;
`

const QInsertMoltRecord = `--sql e4b29f6c-0a1d-4c3e-9b87-2d5f8a1c6e07
insert into molt_history (day_number, reflection, prompt, image_url, upload_result, created_at)
values ($1::int, $2::text, $3::text, $4::text, $5::jsonb, $6::timestamptz);
`
