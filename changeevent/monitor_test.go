// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package changeevent_test

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"
	"storj.io/columnmanager/changeevent"
	"storj.io/columnmanager/repository"
	"storj.io/columnmanager/repository/entitykey"
	"storj.io/columnmanager/repository/repositorytest"
	"storj.io/columnmanager/storage"
)

var ns1t1 = storage.TableName{Namespace: "ns1", Qualifier: "t1"}

const maxValueLength = repository.ValuePrefix + repository.MaxValueLengthKey

// auditScenario writes a 2 byte and then an 82 byte value into ns1:t1 cf1:c1.
func auditScenario(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
	repositorytest.CreateTable{Desc: storage.TableDescriptor{
		Name:     ns1t1,
		Families: []storage.FamilyDescriptor{{Name: "cf1"}},
	}}.Check(ctx, t, env)

	repositorytest.Write{Table: ns1t1, Mutations: []storage.Mutation{
		repositorytest.Put("r1", "cf1", "c1", "ab"),
	}}.Check(ctx, t, env)
	repositorytest.Write{Table: ns1t1, Mutations: []storage.Mutation{
		repositorytest.Put("r2", "cf1", "c1", strings.Repeat("x", 82)),
	}}.Check(ctx, t, env)
}

func scan(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) *changeevent.Monitor {
	monitor, err := changeevent.Scan(ctx, zaptest.NewLogger(t), env.Repo)
	require.NoError(t, err)
	return monitor
}

func values(events []*changeevent.Event) []string {
	var result []string
	for _, event := range events {
		result = append(result, string(event.AttributeValue))
	}
	return result
}

func TestAuditTrail(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		monitor := scan(ctx, t, env)

		events, err := monitor.ForColumnAuditor(ns1t1, "cf1", []byte("c1"))
		require.NoError(t, err)

		var lengths []*changeevent.Event
		for _, event := range events {
			require.Equal(t, entitykey.ColumnAuditor, event.EntityType)
			require.Equal(t, "ns1", event.Namespace)
			require.Equal(t, "t1", event.Table)
			require.Equal(t, "cf1", event.Family)
			require.Equal(t, "c1", string(event.Qualifier))
			if event.AttributeName == maxValueLength {
				lengths = append(lengths, event)
			}
		}
		require.Equal(t, []string{"2", "82"}, values(lengths))
		require.Less(t, lengths[0].Timestamp, lengths[1].Timestamp)

		// the first sighting is stamped, growing an existing auditor is not
		require.Equal(t, repositorytest.ActingUser, lengths[0].ActingUser)
		require.Equal(t, "", lengths[1].ActingUser)

		for _, event := range monitor.All() {
			require.NotEqual(t, repository.ForeignKeyColumn, event.AttributeName)
			require.NotEqual(t, repository.UserColumn, event.AttributeName)
			require.NotEqual(t, repository.EnforcedColumn, event.AttributeName)
		}
	})
}

func TestTruncateKeepsAuditTrail(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		require.NoError(t, env.Repo.TruncateTableColumns(ctx, ns1t1))
		repositorytest.Write{Table: ns1t1, Mutations: []storage.Mutation{
			repositorytest.Put("r3", "cf1", "c1", "z"),
		}}.Check(ctx, t, env)
		monitor := scan(ctx, t, env)

		events, err := monitor.ForColumnAuditor(ns1t1, "cf1", []byte("c1"))
		require.NoError(t, err)

		var lengths, status []*changeevent.Event
		for _, event := range events {
			switch event.AttributeName {
			case maxValueLength:
				lengths = append(lengths, event)
			case repository.StatusColumn:
				status = append(status, event)
			}
		}
		require.Equal(t, []string{"2", "82", "1"}, values(lengths))
		require.Equal(t, []string{"A", "D", "A"}, values(status))
		require.Equal(t, repositorytest.ActingUser, status[1].ActingUser)
		require.Equal(t, repositorytest.ActingUser, lengths[2].ActingUser)
	})
}

func TestViews(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		require.NoError(t, env.Repo.DeleteTable(ctx, ns1t1))
		monitor := scan(ctx, t, env)

		all := monitor.All()
		require.NotEmpty(t, all)
		require.Len(t, monitor.ByUser(), len(all))
		require.Len(t, monitor.ByEntity(), len(all))

		for i := 1; i < len(all); i++ {
			require.LessOrEqual(t, all[i-1].Timestamp, all[i].Timestamp)
		}

		byUser := monitor.ByUser()
		for i := 1; i < len(byUser); i++ {
			require.LessOrEqual(t, byUser[i-1].ActingUser, byUser[i].ActingUser)
			if byUser[i-1].ActingUser == byUser[i].ActingUser {
				require.LessOrEqual(t, byUser[i-1].Timestamp, byUser[i].Timestamp)
			}
		}

		byEntity := monitor.ByEntity()
		for i := 1; i < len(byEntity); i++ {
			c := byEntity[i-1].Key().Compare(byEntity[i].Key())
			require.LessOrEqual(t, c, 0)
			if c == 0 {
				require.LessOrEqual(t, byEntity[i-1].Timestamp, byEntity[i].Timestamp)
			}
		}
	})
}

func TestPointQueries(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		require.NoError(t, env.Repo.PutColumnDefinitions(ctx, ns1t1, "cf1",
			repository.ColumnDefinition{Qualifier: []byte("c1"), ColumnLength: 100}))
		require.NoError(t, env.Repo.DeleteTable(ctx, ns1t1))
		monitor := scan(ctx, t, env)

		namespace, err := monitor.ForNamespace("ns1")
		require.NoError(t, err)
		require.NotEmpty(t, namespace)
		for _, event := range namespace {
			require.Equal(t, entitykey.Namespace, event.EntityType)
			require.Equal(t, "ns1", event.Namespace)
			require.Equal(t, "", event.Table)
		}

		table, err := monitor.ForTable(ns1t1)
		require.NoError(t, err)
		for _, event := range table {
			require.Equal(t, entitykey.Table, event.EntityType)
			require.Equal(t, "ns1", event.Namespace)
			require.Equal(t, "t1", event.Table)
		}

		status, err := monitor.ForTableAttribute(ns1t1, repository.StatusColumn)
		require.NoError(t, err)
		require.Equal(t, []string{"A", "D"}, values(status))

		family, err := monitor.ForFamily(ns1t1, "cf1")
		require.NoError(t, err)
		require.NotEmpty(t, family)

		versions, err := monitor.ForFamilyAttribute(ns1t1, "cf1", repository.ValuePrefix+storage.VersionsKey)
		require.NoError(t, err)
		require.Equal(t, []string{"1"}, values(versions))

		definition, err := monitor.ForColumnDefinition(ns1t1, "cf1", []byte("c1"))
		require.NoError(t, err)
		require.Contains(t, values(definition), "100")
		for _, event := range definition {
			require.Equal(t, entitykey.ColumnDefinition, event.EntityType)
			require.Equal(t, "c1", string(event.Qualifier))
		}

		for _, query := range []func() ([]*changeevent.Event, error){
			func() ([]*changeevent.Event, error) { return monitor.ForNamespace("missing") },
			func() ([]*changeevent.Event, error) {
				return monitor.ForTable(storage.TableName{Namespace: "ns1", Qualifier: "missing"})
			},
			func() ([]*changeevent.Event, error) { return monitor.ForFamily(ns1t1, "missing") },
			func() ([]*changeevent.Event, error) {
				return monitor.ForColumnAuditor(ns1t1, "cf1", []byte("missing"))
			},
			func() ([]*changeevent.Event, error) {
				return monitor.ForColumnDefinition(ns1t1, "missing", []byte("c1"))
			},
			func() ([]*changeevent.Event, error) { return monitor.ForTableAttribute(storage.TableName{Qualifier: "t1"}, "x") },
		} {
			_, err := query()
			require.True(t, changeevent.ErrEntityNotFound.Has(err), err)
		}
	})
}

func TestUsers(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		monitor := scan(ctx, t, env)

		events := monitor.ForUser(repositorytest.ActingUser)
		require.NotEmpty(t, events)
		for i, event := range events {
			require.Equal(t, repositorytest.ActingUser, event.ActingUser)
			if i > 0 {
				require.LessOrEqual(t, events[i-1].Timestamp, event.Timestamp)
			}
		}

		require.Empty(t, monitor.ForUser("nobody"))
		unstamped := monitor.ForUser("")
		require.Len(t, unstamped, 1)
		require.Equal(t, maxValueLength, unstamped[0].AttributeName)
	})
}

func TestExcludedTableHasNoEvents(t *testing.T) {
	config := repositorytest.Config()
	config.ExcludedTables = []string{"ns2:t1"}

	repositorytest.RunWithConfig(t, config, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		ns2t1 := storage.TableName{Namespace: "ns2", Qualifier: "t1"}
		repositorytest.CreateTable{Desc: storage.TableDescriptor{
			Name:     ns2t1,
			Families: []storage.FamilyDescriptor{{Name: "cf1"}},
		}}.Check(ctx, t, env)
		repositorytest.Write{Table: ns2t1, Mutations: []storage.Mutation{
			repositorytest.Put("r1", "cf1", "c1", "value"),
		}}.Check(ctx, t, env)

		monitor := scan(ctx, t, env)
		require.Empty(t, monitor.All())

		_, err := monitor.ForTable(ns2t1)
		require.True(t, changeevent.ErrEntityNotFound.Has(err), err)
	})
}

func TestCSVRoundTrip(t *testing.T) {
	repositorytest.Run(t, func(ctx *testcontext.Context, t *testing.T, env *repositorytest.Env) {
		auditScenario(ctx, t, env)
		_, err := env.Repo.PutNamespace(ctx, storage.NamespaceDescriptor{
			Name:          "ns1",
			Configuration: map[string]string{
				"comment": "quoted \"value\", with\nnewline",
				"windows": "a\r\nb",
			},
		})
		require.NoError(t, err)
		repositorytest.Write{Table: ns1t1, Mutations: []storage.Mutation{
			repositorytest.Put("r3", "cf1", "\xff\r\n\\q", "v"),
		}}.Check(ctx, t, env)
		monitor := scan(ctx, t, env)

		var buf bytes.Buffer
		require.NoError(t, changeevent.WriteCSV(&buf, monitor.All()))
		require.True(t, strings.HasPrefix(buf.String(),
			"Timestamp,Acting_User,Entity_Type,Namespace,Table,Column_Family,Column_Qualifier,Attribute_Name,Attribute_Value\n"))

		records, err := changeevent.ReadCSV(&buf)
		require.NoError(t, err)

		var expected []changeevent.Record
		for _, event := range monitor.All() {
			expected = append(expected, event.Record())
		}
		require.Len(t, records, len(expected))
		require.Zero(t, cmp.Diff(expected, records))
		require.Contains(t, records, changeevent.Record{
			Timestamp:      records[len(records)-1].Timestamp,
			ActingUser:     repositorytest.ActingUser,
			EntityType:     entitykey.Namespace,
			Namespace:      "ns1",
			AttributeName:  repository.ConfigurationPrefix + "comment",
			AttributeValue: "quoted \"value\", with\nnewline",
		})
		require.Contains(t, records, changeevent.Record{
			Timestamp:      records[len(records)-1].Timestamp,
			ActingUser:     repositorytest.ActingUser,
			EntityType:     entitykey.Namespace,
			Namespace:      "ns1",
			AttributeName:  repository.ConfigurationPrefix + "windows",
			AttributeValue: "a\r\nb",
		})

		auditors, err := monitor.ForColumnAuditor(ns1t1, "cf1", []byte("\xff\r\n\\q"))
		require.NoError(t, err)
		require.NotEmpty(t, auditors)
	})
}

func TestCSVEscaping(t *testing.T) {
	event := &changeevent.Event{
		EntityType:     entitykey.ColumnAuditor,
		Timestamp:      1767225600123,
		AttributeName:  maxValueLength,
		AttributeValue: []byte("line1\r\nline2 \\r \\x41"),
		ActingUser:     "tester",
		Namespace:      "ns1",
		Table:          "t1",
		Family:         "cf1",
		Qualifier:      []byte{0xff, '\r', '\n', 'q', 0x80},
	}

	var buf bytes.Buffer
	require.NoError(t, changeevent.WriteCSV(&buf, []*changeevent.Event{event}))
	require.NotContains(t, buf.String(), "\r")
	require.True(t, utf8.Valid(buf.Bytes()))
	require.Contains(t, buf.String(), `\xFF\r`)

	records, err := changeevent.ReadCSV(&buf)
	require.NoError(t, err)
	require.Equal(t, []changeevent.Record{event.Record()}, records)
	require.Equal(t, "line1\r\nline2 \\r \\x41", records[0].AttributeValue)
	require.Equal(t, string([]byte{0xff, '\r', '\n', 'q', 0x80}), records[0].Qualifier)
}

func TestReadCSVInvalid(t *testing.T) {
	for _, input := range []string{
		"",
		"Timestamp,User\n",
		strings.Join(changeevent.Header, ",") + "\nnot a time,u,TABLE,ns,t,,,_Status,A\n",
		strings.Join(changeevent.Header, ",") + "\n2026-01-02T03:04:05.000Z,u,BOGUS,ns,t,,,_Status,A\n",
		strings.Join(changeevent.Header, ",") + "\n2026-01-02T03:04:05.000Z,u,TABLE\n",
		strings.Join(changeevent.Header, ",") + "\n2026-01-02T03:04:05.000Z,u,TABLE,ns,t,,,_Status,\\q\n",
		strings.Join(changeevent.Header, ",") + "\n2026-01-02T03:04:05.000Z,u,TABLE,ns,t,,,_Status,\\x4\n",
		strings.Join(changeevent.Header, ",") + "\n2026-01-02T03:04:05.000Z,u\\,TABLE,ns,t,,,_Status,A\n",
	} {
		_, err := changeevent.ReadCSV(strings.NewReader(input))
		require.True(t, changeevent.Error.Has(err), input)
	}

	records, err := changeevent.ReadCSV(strings.NewReader(strings.Join(changeevent.Header, ",") + "\n"))
	require.NoError(t, err)
	require.Empty(t, records)
}
