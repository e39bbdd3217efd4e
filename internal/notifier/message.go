package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/rockmelodies/MonitorTask/internal/monitor"
)

const (
	timeLayout      = "2006-01-02 15:04:05"
	broadcastFooter = "---\n\n@所有人 请相关团队立即响应！"
)

// message is a rendered alert, independent of the wire format.
type message struct {
	Title     string
	Text      string
	Broadcast bool
}

func priorityEmoji(p monitor.Priority) string {
	switch p {
	case monitor.PriorityHigh:
		return "🔴"
	case monitor.PriorityLow:
		return "🟢"
	default:
		return "🟡"
	}
}

func stamp(at time.Time, now func() time.Time) string {
	if at.IsZero() {
		at = now()
	}
	return at.Format(timeLayout)
}

func renderSimple(a SimpleAlert, now func() time.Time) message {
	var b strings.Builder
	b.WriteString("## 📢 内容变化提醒\n\n")
	fmt.Fprintf(&b, "**来源**: %s\n\n", a.TaskName)
	fmt.Fprintf(&b, "**时间**: %s\n\n", stamp(a.At, now))
	fmt.Fprintf(&b, "**变化摘要**:\n%s\n\n", a.Summary)
	fmt.Fprintf(&b, "**查看详情**: [%s](%s)\n", a.URL, a.URL)
	return message{
		Title: "📢 监控提醒 - " + a.TaskName,
		Text:  b.String(),
	}
}

func renderVulnerability(a VulnerabilityAlert, now func() time.Time) message {
	priority := a.Priority
	if priority == "" {
		priority = monitor.PriorityMedium
	}
	broadcast := ShouldBroadcast(priority, a.Matched)

	var b strings.Builder
	fmt.Fprintf(&b, "## %s 漏洞情报预警\n\n", priorityEmoji(priority))
	fmt.Fprintf(&b, "**来源**: %s\n\n", a.TaskName)
	fmt.Fprintf(&b, "**时间**: %s\n\n", stamp(a.At, now))
	fmt.Fprintf(&b, "**优先级**: %s\n\n", strings.ToUpper(string(priority)))

	v := a.Vulnerability
	writeList(&b, "CVE编号", v.CVEIDs)
	writeList(&b, "CNVD编号", v.CNVDIDs)
	writeList(&b, "CNNVD编号", v.CNNVDIDs)
	writeList(&b, "CVSS评分", v.CVSSScores)
	writeList(&b, "风险等级", v.SeverityLevels)
	writeList(&b, "匹配关键词", a.Matched)

	if a.Summary != "" {
		fmt.Fprintf(&b, "**变化摘要**:\n%s\n\n", a.Summary)
	}
	fmt.Fprintf(&b, "**查看详情**: [%s](%s)\n\n", a.URL, a.URL)
	if broadcast {
		b.WriteString(broadcastFooter)
	}
	return message{
		Title:     "🚨 漏洞情报预警 - " + a.TaskName,
		Text:      b.String(),
		Broadcast: broadcast,
	}
}

func writeList(b *strings.Builder, label string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(b, "**%s**: %s\n\n", label, strings.Join(values, ", "))
}
