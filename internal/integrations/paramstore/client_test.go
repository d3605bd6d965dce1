package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath_Decrypts(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("/collections/config/openai_model"), Value: strPtr("gpt-4o"), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)

	v, err := client.GetParameter(context.Background(), " /collections/config/openai_model ")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o", v)
	require.Equal(t, "/collections/config/openai_model", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_NotFound(t *testing.T) {
	api := &fakeAPI{getErr: &types.ParameterNotFound{Message: strPtr("nope")}}
	client, err := New(api)
	require.NoError(t, err)

	_, err = client.GetParameter(context.Background(), "/collections/config/elevenlabs_agent_id")
	require.ErrorIs(t, err, ErrNotFound)
	require.Contains(t, err.Error(), "elevenlabs_agent_id")
}

func TestGetParameter_MissingOrEmptyValue(t *testing.T) {
	client, err := New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p")}}})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "missing value")
	require.ErrorIs(t, err, ErrInvalidValue)

	client, err = New(&fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: strPtr("  ")}}})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "is empty")
	require.ErrorIs(t, err, ErrInvalidValue)
}

func TestGetParameter_ApiError(t *testing.T) {
	client, err := New(&fakeAPI{getErr: errors.New("boom")})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
	require.NotErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrInvalidValue)
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

type fakeGetter struct {
	val string
	err error
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	return f.val, f.err
}

func TestGetToken(t *testing.T) {
	tok, err := GetToken(context.Background(), &fakeGetter{val: `{"token":"sk-123"}`}, "/p/open-ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-123", tok)

	_, err = GetToken(context.Background(), &fakeGetter{val: `{"other":"x"}`}, "/p/open-ai-token")
	require.ErrorContains(t, err, "is empty")
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = GetToken(context.Background(), &fakeGetter{val: `{"broken`}, "/p/open-ai-token")
	require.ErrorContains(t, err, "not JSON")
	require.ErrorIs(t, err, ErrInvalidValue)

	_, err = GetToken(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/p/open-ai-token")
	require.ErrorContains(t, err, "ssm unavailable")
	require.NotErrorIs(t, err, ErrInvalidValue)

	_, err = GetToken(context.Background(), nil, "/p/open-ai-token")
	require.ErrorContains(t, err, "nil")

	_, err = GetToken(context.Background(), &fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}
