package stub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetsight/analytics-backend/internal/domain"
)

func TestComplete_ClassifierPrompt_ReturnsDataQueryLabel(t *testing.T) {
	c := New()
	res, err := c.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "Bạn là bộ phân loại ý định cho một trợ lý dữ liệu bán hàng."},
		{Role: domain.RoleUser, Content: "doanh thu hôm nay là bao nhiêu?"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "data_query", res.Text)
}

func TestComplete_ClassifierPrompt_ReturnsChatLabel(t *testing.T) {
	c := New()
	res, err := c.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "Bạn là bộ phân loại ý định cho một trợ lý dữ liệu bán hàng."},
		{Role: domain.RoleUser, Content: "xin chào bạn"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "chat", res.Text)
}

func TestComplete_DataAgentPrompt_WithDataQuestion_RequestsFirstTool(t *testing.T) {
	c := New()
	tools := []domain.ToolSpec{{Name: "query_rows"}}
	res, err := c.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "Bạn là trợ lý phân tích dữ liệu bán hàng."},
		{Role: domain.RoleUser, Content: "doanh thu tuần này?"},
	}, tools)
	require.NoError(t, err)
	require.Len(t, res.ToolCalls, 1)
	assert.Equal(t, "query_rows", res.ToolCalls[0].Name)
}

func TestComplete_DataAgentPrompt_AfterToolResult_ReturnsText(t *testing.T) {
	c := New()
	tools := []domain.ToolSpec{{Name: "query_rows"}}
	res, err := c.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "Bạn là trợ lý phân tích dữ liệu bán hàng."},
		{Role: domain.RoleUser, Content: "doanh thu tuần này?"},
		{Role: domain.RoleTool, Content: `{"total":100}`},
	}, tools)
	require.NoError(t, err)
	assert.Empty(t, res.ToolCalls)
	assert.NotEmpty(t, res.Text)
}

func TestStream_EmitsSingleFinalChunk(t *testing.T) {
	c := New()
	ch, err := c.Stream(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "Bạn là trợ lý trò chuyện thân thiện."},
		{Role: domain.RoleUser, Content: "cảm ơn bạn"},
	}, nil)
	require.NoError(t, err)

	var chunks []domain.StreamChunk
	for chunk := range ch {
		chunks = append(chunks, chunk)
	}
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Done)
}
