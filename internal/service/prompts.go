package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/punchliner/api/internal/client"
	"github.com/punchliner/api/internal/model"
)

// Cold joke generation tuning
var (
	coldJokeOptions        = client.ChatOptions{Temperature: 0.9, MaxTokens: 200}
	coldJokeListOptions    = client.ChatOptions{Temperature: 0.9, MaxTokens: 1000}
	similarColdJokeOptions = client.ChatOptions{Temperature: 0.9, MaxTokens: 2000}
)

const (
	coldJokePageSize    = 20
	similarColdJokeSize = 20
	coldJokeSeparator   = "---"
)

var listNumbering = regexp.MustCompile(`^\d+[.、]\s*`)

func buildActionPrompt(action model.AIActionType, content, style string) (string, error) {
	switch action {
	case model.AIActionContinue:
		return fmt.Sprintf("请根据以下段子续写后续情节，要求幽默风趣，与原文风格一致，续写内容不要超过200字：\n\n%s\n\n续写：", content), nil
	case model.AIActionRewrite:
		return fmt.Sprintf("请将以下段子改写成%s风格，要求保持原意但语言风格变化，不要超过原文字数太多：\n\n%s\n\n改写：", rewriteStyle(style), content), nil
	case model.AIActionRoast:
		return fmt.Sprintf("请对以下段子进行毒舌点评/吐槽，要求幽默犀利，一针见血，不超过100字：\n\n%s\n\n点评：", content), nil
	case model.AIActionSimilar:
		return fmt.Sprintf("请根据以下段子的风格，推荐3-5个相似风格的段子主题或关键词（直接输出主题，用逗号分隔）：\n\n%s\n\n推荐：", content), nil
	case model.AIActionImage:
		return fmt.Sprintf("请为以下段子生成一张幽默的配图描述，风格可以是表情包风格或简约文字卡片风格，描述不要超过50字：\n\n%s\n\n图片描述：", content), nil
	case model.AIActionMoments:
		return fmt.Sprintf("请为以下段子生成一条适合发朋友圈的文案，要求有趣、吸引人点赞，不超过100字：\n\n%s\n\n文案：", content), nil
	case model.AIActionColdImage:
		return fmt.Sprintf("请为以下冷笑话生成一张配图描述：纯黑色背景，画面中央用醒目的橙色或黄色大字写出笑话的关键句，极简排版，不要人物，描述不要超过50字：\n\n%s\n\n图片描述：", content), nil
	}
	return "", fmt.Errorf("unknown action type %q", action)
}

// rewriteStyle accepts either a style key or a free-form style name
func rewriteStyle(style string) string {
	style = strings.TrimSpace(style)
	if style == "" {
		return model.DefaultRewriteStyle
	}
	if name, ok := model.RewriteStyles[style]; ok {
		return name
	}
	return style
}

const coldJokeRules = `# 冷笑话生成专家

## 角色定位
你是一个冷笑话专家，只做一件事：生成让人看完先愣住、然后不由自主笑出来的冷笑话。不在乎梗老不老，只在乎够不够冷、够不够好笑。

## 生成规则

### 1. 好笑标准（必须同时满足）
- **谐音要“妙”**：谐音必须基于人们熟悉的词语、俗语、成语、歌名、英文单词（如 duck=躲开、plan=懒、菌=君）。让人一听就懂，一想就笑。
- **逻辑要“通”**：即使是歪理，也要有完整的因果关系。笑话的前后要能串联起来，不能是毫无关联的胡扯。
- **画面要“强”**：最好能让人在脑海中浮现出具体的画面（如大猩猩敲咪咪、小鸭被球砸）。
- **反应要“愣”**：读完第一秒是“？？？”，第二秒是“哈哈哈哈”。

### 2. 冷感标准（必须同时满足）
- **极简短**：15-50字，能短则短。废话一个字都不要。
- **极平淡**：语气像在陈述事实，不要用“哈哈哈”“笑死”这种词，不要刻意搞笑。
- **极无奈**：带着一种“我知道这很烂，但就这样吧”的冷峻气质。

### 3. 形式选择（二选一）
- **问答式**：问题合理，答案意外（如“什么动物生气最安静？大猩猩，因为敲咪咪”）
- **短叙事式**：1-2句话讲故事，最后一句点破（如“制定了plan，因为lan。完成了个p”）
`

const coldJokeExamples = `
### 5. 参考风格（这就是你要的“冷+好笑”）
- 制定了plan，因为lan。完成了个p。
- 什么动物生气时最安静？大猩猩，因为敲咪咪。
- 小鸡、小鸭、小鹅打球，谁最容易被砸？小鸭，因为duck不避。
- 为什么橙子怕蘑菇？菌要橙死，橙不得不死。
- 绿豆鲨吃了绿豆，变成了绿豆沙。
`

func buildColdJokePrompt() string {
	return coldJokeRules + `
### 4. 输出要求
- 只输出笑话正文，不要任何解释、前缀、后缀
- 每次输出1个冷笑话
- 字数控制在15-50字之间
` + coldJokeExamples + `
请返回一个新的冷笑话：`
}

func buildColdJokeListPrompt(count int) string {
	return coldJokeRules + fmt.Sprintf(`
### 4. 输出要求
- 只输出笑话正文，不要任何解释、前缀、后缀
- 每次输出%d个冷笑话
- 每个冷笑话字数控制在15-50字之间
- 直接输出笑话内容，每个笑话用"---"分隔，不要有其他前缀或解释
`, count) + coldJokeExamples + fmt.Sprintf(`
请生成%d个不同的冷笑话：`, count)
}

func buildSimilarColdJokePrompt(content string, count int) string {
	return fmt.Sprintf(`请根据以下冷笑话的风格，生成%d个类似的冷笑话。

要求：
1. 风格要相似（同样的尴尬、无聊、冷漠的幽默感）
2. 每个长度控制在30-80字之间
3. 内容要原创
4. 直接输出笑话内容，每行一个笑话，**不要带任何序号**，不要用1. 2. 这样的格式
5. 不要用任何标记分隔

原冷笑话：
%s

请直接输出%d个笑话，每行一个，不要序号：`, count, content, count)
}

// splitJokes cuts a model reply into at most limit jokes
func splitJokes(reply, sep string, limit int) []string {
	var out []string
	for _, part := range strings.Split(reply, sep) {
		part = strings.TrimSpace(part)
		if sep == "\n" {
			part = listNumbering.ReplaceAllString(part, "")
		}
		if part == "" {
			continue
		}
		out = append(out, part)
		if len(out) == limit {
			break
		}
	}
	return out
}
