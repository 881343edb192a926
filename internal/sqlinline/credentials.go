package sqlinline

const QSelectClientCredential = `--sql 3f0c7a52-9e1d-4b6a-8d2e-51a4c6f7b0e9
select token
from client_credentials
where profile = $1::text
limit 1;
`

const QUpsertClientCredential = `--sql 9b2d4e61-7a3c-4f18-b5d0-2c8e6a1f4d73
insert into client_credentials (profile, token, updated_at)
values ($1::text, $2::text, now())
on conflict (profile) do update set
    token = excluded.token,
    updated_at = now();
`

const QDeleteClientCredential = `--sql c5e81f2a-0d4b-4e97-a63c-7b9f2e5d1a08
delete from client_credentials
where profile = $1::text;
`

const QCreateClientCredentialsTable = `--sql 6a1d9c3e-2b7f-4e05-9f84-d3c0b5a7e216
create table if not exists client_credentials (
    profile    text primary key,
    token      text not null,
    updated_at timestamptz not null default now()
);
`
