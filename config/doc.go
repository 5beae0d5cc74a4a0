// Package config 提供 LocalRAG 引擎的统一配置加载。
//
// 引擎消费但不拥有检索配置面（TopK、混合检索开关、关键词权重、重排开关、
// CRAG 开关、相似度阈值、历史窗口）；这些项由外层设置界面写入 YAML 文件，
// 引擎启动时加载，环境变量可覆盖（LOCALRAG_ 前缀）。
package config
