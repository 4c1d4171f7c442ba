// 弹幕分段解码与 wbi 签名的离线调试工具
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/liuran001/BiliSummary-Go/summary/analysis"
	"github.com/liuran001/BiliSummary-Go/summary/danmaku"
	"github.com/liuran001/BiliSummary-Go/summary/wbi"
)

var (
	asJSON   bool
	sortTime bool
	imgKey   string
	subKey   string
	wts      int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bilitool",
		Short: "弹幕分段解码、wbi 混合密钥与签名计算工具",
	}

	decodeCmd := &cobra.Command{
		Use:   "decode <segment file>",
		Short: "解码 seg.so 弹幕分段",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
	decodeCmd.Flags().BoolVarP(&asJSON, "json", "j", false, "以 JSON 输出")
	decodeCmd.Flags().BoolVarP(&sortTime, "sort", "s", false, "按出现时间排序")

	mixinCmd := &cobra.Command{
		Use:   "mixin <img key|url> <sub key|url>",
		Short: "计算混合密钥",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mixin, err := wbi.MixinKey(keyArg(args[0]), keyArg(args[1]))
			if err != nil {
				return err
			}
			fmt.Println(mixin)
			return nil
		},
	}

	signCmd := &cobra.Command{
		Use:   "sign k=v...",
		Short: "对参数签名并输出规范串和查询串",
		RunE:  runSign,
	}
	signCmd.Flags().StringVar(&imgKey, "img", "", "img key 或 url")
	signCmd.Flags().StringVar(&subKey, "sub", "", "sub key 或 url")
	signCmd.Flags().Int64Var(&wts, "wts", 0, "时间戳，默认当前时间")
	_ = signCmd.MarkFlagRequired("img")
	_ = signCmd.MarkFlagRequired("sub")

	digestCmd := &cobra.Command{
		Use:   "digest <text>",
		Short: "计算文本摘要",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(wbi.Digest(args[0]))
		},
	}

	rootCmd.AddCommand(decodeCmd, mixinCmd, signCmd, digestCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("读取文件失败: %w", err)
	}

	comments, decodeErr := danmaku.Decode(data)
	if sortTime {
		comments = danmaku.SortByTime(comments)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(comments); err != nil {
			return err
		}
	} else {
		for _, c := range comments {
			fmt.Printf("[%s] %s %s\n",
				colorText(analysis.FormatTimestamp(c.Time), color.FgYellow),
				colorText(fmt.Sprintf("mode=%d size=%d #%s", c.Mode, c.FontSize, c.Color), color.FgCyan),
				colorText(c.Text, color.FgHiGreen))
		}
	}

	fmt.Fprintf(os.Stderr, "共 %d 条弹幕，%d 字节\n", len(comments), len(data))
	if decodeErr != nil {
		fmt.Fprintln(os.Stderr, colorText("解码提前结束: "+decodeErr.Error(), color.FgRed))
	}
	return nil
}

func runSign(cmd *cobra.Command, args []string) error {
	mixin, err := wbi.MixinKey(keyArg(imgKey), keyArg(subKey))
	if err != nil {
		return err
	}

	params := wbi.Params{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return errors.New("参数格式应为 k=v: " + arg)
		}
		params[key] = value
	}

	ts := wts
	if ts == 0 {
		ts = time.Now().Unix()
	}
	signed := wbi.SignWith(params, mixin, ts)

	canonical := signed.Clone()
	delete(canonical, wbi.ParamSignature)
	fmt.Printf("%s %s\n", colorText("mixin:", color.FgCyan), mixin)
	fmt.Printf("%s %s\n", colorText("canonical:", color.FgCyan), wbi.Canonicalize(canonical))
	fmt.Printf("%s %s\n", colorText("w_rid:", color.FgCyan), colorText(signed.Get(wbi.ParamSignature), color.FgHiGreen))
	fmt.Printf("%s %s\n", colorText("query:", color.FgCyan), signed.Encode())
	return nil
}

// keyArg accepts either a bare key or the image url it comes from.
func keyArg(s string) string {
	s = strings.TrimSpace(s)
	if len(s) == wbi.KeyLength {
		return s
	}
	if key := wbi.ExtractKey(s); key != "" {
		return key
	}
	return s
}

func colorText(text string, c color.Attribute) string {
	return color.New(c).SprintFunc()(text)
}
